package util

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

// NewLogger builds a JSON logger at level ("debug", "info", ...). When
// logPath is set, output goes to both stdout and the file.
func NewLogger(level, logPath string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	if logPath == "" {
		return newLogger(lvl, zapcore.AddSync(os.Stdout)), nil
	}
	return NewLoggerWithFile(lvl, logPath)
}

// NewLoggerWithFile creates a logger that writes to both console and a file
func NewLoggerWithFile(lvl zapcore.Level, logPath string) (*zap.Logger, error) {
	// Ensure log directory exists
	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return newLogger(lvl, zapcore.AddSync(os.Stdout), zapcore.AddSync(file)), nil
}

func newLogger(lvl zapcore.Level, sinks ...zapcore.WriteSyncer) *zap.Logger {
	enc := zapcore.NewJSONEncoder(encoderConfig())
	cores := make([]zapcore.Core, len(sinks))
	for i, s := range sinks {
		cores[i] = zapcore.NewCore(enc, s, lvl)
	}
	return zap.New(zapcore.NewTee(cores...))
}
