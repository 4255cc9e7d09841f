package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/tickerbook/params"
	"github.com/uhyunpark/tickerbook/pkg/api"
	"github.com/uhyunpark/tickerbook/pkg/app/broker"
	"github.com/uhyunpark/tickerbook/pkg/app/core"
	"github.com/uhyunpark/tickerbook/pkg/app/core/market"
	"github.com/uhyunpark/tickerbook/pkg/app/core/prices"
	"github.com/uhyunpark/tickerbook/pkg/events"
	"github.com/uhyunpark/tickerbook/pkg/metrics"
	"github.com/uhyunpark/tickerbook/pkg/storage"
	"github.com/uhyunpark/tickerbook/pkg/util"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST/WebSocket server and the price generator",
	RunE:  runServe,
}

func loadConfig(cmd *cobra.Command) (params.Config, error) {
	envFile, err := cmd.Flags().GetString(envFileFlagName)
	if err != nil {
		return params.Config{}, err
	}
	return params.LoadFromEnv(envFile)
}

func openStore(cfg params.Config) (storage.Store, error) {
	if cfg.Storage.DBPath == "" {
		return storage.NewMemoryStore(), nil
	}
	if err := os.MkdirAll(cfg.Storage.DBPath, 0755); err != nil {
		return nil, err
	}
	return storage.NewPebbleStore(cfg.Storage.DBPath)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := util.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.LogFile, "level", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	sugar.Infow("store_opened", "db_path", cfg.Storage.DBPath, "persistent", cfg.Storage.DBPath != "")

	reg := market.Default()
	clock := util.RealClock{}
	table := prices.NewTable(reg, clock.Now())
	m := metrics.New()

	app, err := broker.New(ctx, broker.Config{
		AdminKey:           cfg.API.AdminKey,
		TradesInitLimit:    cfg.Market.TradesInitLimit,
		TradesDefaultLimit: cfg.Market.TradesDefaultLimit,
		UserCacheTTL:       cfg.Storage.UserCacheTTL,
	}, broker.Deps{
		Registry: reg,
		Table:    table,
		Store:    store,
		Metrics:  m,
		Clock:    clock,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer app.Close()

	if cfg.API.AdminKey == "" {
		sugar.Warnw("admin_routes_open", "reason", "ADMIN_KEY not set")
	}
	if len(cfg.Feed.KafkaBrokers) > 0 {
		app.Events().AddSink(events.NewKafkaSink(cfg.Feed.KafkaBrokers, cfg.Feed.KafkaTopic, logger.Named("kafka")))
		sugar.Infow("kafka_feed_enabled", "brokers", cfg.Feed.KafkaBrokers, "topic", cfg.Feed.KafkaTopic)
	}

	gen := prices.NewGenerator(prices.GeneratorConfig{
		Interval: cfg.Market.TickInterval,
		Floor:    cfg.Market.PriceFloor,
	}, reg, table, clock, nil, logger.Named("prices"))
	gen.OnTick = func(snapshot map[core.Symbol]prices.Price) {
		app.OnTick(ctx, snapshot)
	}

	srv := api.NewServer(app, m, api.Config{
		CORSOrigins:    cfg.API.CORSOrigins,
		MetricsEnabled: cfg.API.MetricsEnabled,
	}, logger.Named("api"))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return gen.Run(ctx) })
	g.Go(func() error { return srv.Run(ctx, cfg.API.Addr) })

	sugar.Infow("broker_started", "addr", cfg.API.Addr, "symbols", reg.Symbols())
	if err := g.Wait(); err != nil {
		sugar.Errorw("broker_stopped", "err", err)
		return err
	}
	sugar.Infow("broker_stopped")
	return nil
}
