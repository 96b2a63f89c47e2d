package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"govqueue/internal/platform/config"
)

// KafkaPublisher produces lifecycle events to a Kafka topic, keyed by office
// so per-office ordering survives partitioning.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// KafkaOption configures the publisher.
type KafkaOption func(*KafkaPublisher)

// WithKafkaLogger sets a logger for produce failures.
func WithKafkaLogger(logger *slog.Logger) KafkaOption {
	return func(p *KafkaPublisher) {
		p.logger = logger
	}
}

// NewKafkaPublisher connects to the brokers and ensures the topic exists.
func NewKafkaPublisher(ctx context.Context, cfg config.KafkaConfig, opts ...KafkaOption) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	p := &KafkaPublisher{
		client: client,
		topic:  cfg.Topic,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if err := p.ensureTopic(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return p, nil
}

func (p *KafkaPublisher) ensureTopic(ctx context.Context) error {
	admin := kadm.NewClient(p.client)
	resp, err := admin.CreateTopic(ctx, -1, -1, nil, p.topic)
	if err != nil {
		return fmt.Errorf("create topic %q: %w", p.topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %q: %w", p.topic, resp.Err)
	}
	return nil
}

// Publish produces one event asynchronously. Delivery failures are logged,
// not returned: ticket operations never fail because the event stream is
// down.
func (p *KafkaPublisher) Publish(ctx context.Context, evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		p.logger.ErrorContext(ctx, "marshal event", "event_id", evt.ID, "error", err)
		return
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(evt.OfficeID),
		Value: payload,
	}
	p.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		if err != nil {
			p.logger.Error("produce event",
				"event_id", evt.ID,
				"type", evt.Type,
				"office_id", evt.OfficeID,
				"error", err,
			)
		}
	})
}

// Close flushes outstanding records and releases the client.
func (p *KafkaPublisher) Close(ctx context.Context) error {
	if err := p.client.Flush(ctx); err != nil {
		p.client.Close()
		return fmt.Errorf("flush kafka producer: %w", err)
	}
	p.client.Close()
	return nil
}
