package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/uhyunpark/tickerbook/pkg/app/core"
	"github.com/uhyunpark/tickerbook/pkg/app/core/prices"
)

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink mirrors the public feed onto a Kafka topic. Trades are keyed by
// symbol so one symbol's trades stay ordered within a partition.
type KafkaSink struct {
	writer messageWriter
}

// NewKafkaSink writes asynchronously: WriteMessages returns once the message
// is queued and delivery errors are only logged.
func NewKafkaSink(brokers []string, topic string, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
			BatchTimeout: 10 * time.Millisecond,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					logger.Warn("kafka_write_failed", zap.Int("messages", len(messages)), zap.Error(err))
				}
			},
		},
	}
}

func (s *KafkaSink) publish(ctx context.Context, key string, env Envelope) error {
	val, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", env.Event, err)
	}
	return s.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: val})
}

func (s *KafkaSink) PublishPrices(ctx context.Context, snapshot map[core.Symbol]prices.Price) error {
	return s.publish(ctx, "prices", Envelope{Event: PricesUpdate, Data: snapshot})
}

func (s *KafkaSink) PublishTrade(ctx context.Context, t *core.Trade) error {
	return s.publish(ctx, string(t.Symbol), Envelope{Event: TradesUpdate, Data: t})
}

func (s *KafkaSink) Close() error { return s.writer.Close() }
