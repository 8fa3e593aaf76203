package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	skafka "github.com/segmentio/kafka-go"

	"payment-reconciler/internal/config"
	"payment-reconciler/internal/domain/model"
	"payment-reconciler/internal/domain/ports/adapter"
)

var (
	_ adapter.EventPublisher = (*KafkaPublisher)(nil)
	_ adapter.EventPublisher = NoopPublisher{}
)

// Writer is the subset of kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...skafka.Message) error
	Close() error
}

// KafkaPublisher writes lifecycle events keyed by session id, so every event
// of one session lands on the same partition in order.
type KafkaPublisher struct {
	writer  Writer
	timeout time.Duration
	log     *zerolog.Logger
}

// NewPublisher returns a Kafka publisher, or a no-op one when no brokers are configured.
func NewPublisher(cfg config.KafkaConfig, logger *zerolog.Logger) adapter.EventPublisher {
	if len(cfg.Brokers) == 0 {
		logger.Info().Msg("kafka brokers not configured; lifecycle events disabled")
		return NoopPublisher{}
	}
	w := &skafka.Writer{
		Addr:         skafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &skafka.Hash{},
		RequiredAcks: skafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return NewPublisherWithWriter(w, logger)
}

func NewPublisherWithWriter(w Writer, logger *zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, timeout: 5 * time.Second, log: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev model.LifecycleEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal lifecycle event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	msg := skafka.Message{
		Key:   []byte(ev.SessionID),
		Value: b,
		Time:  ev.OccurredAt,
		Headers: []skafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	p.log.Debug().Str("event", string(ev.Type)).Str("session_id", ev.SessionID).Msg("lifecycle event published")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, model.LifecycleEvent) error { return nil }
func (NoopPublisher) Close() error                                       { return nil }
