// Package kafka publishes submission lifecycle events so downstream systems
// (notification senders, billing) can react without polling the database.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pibicha/turnitin-admin/internal/domain/submission"
	"github.com/pibicha/turnitin-admin/pkg/common/logger"
)

// Config contains the Kafka connection settings for the lifecycle publisher.
type Config struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// NewClient creates a Kafka client configured for synchronous publishing.
func NewClient(cfg *Config) (sarama.Client, error) {
	config := sarama.NewConfig()
	config.ClientID = cfg.ClientID

	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner

	config.Version = sarama.V3_6_0_0

	return sarama.NewClient(cfg.Brokers, config)
}

var _ submission.EventPublisher = (*Publisher)(nil)

// Publisher emits lifecycle events to a single Kafka topic, keyed by
// submission id so one submission's events stay ordered.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string

	tracer trace.Tracer
	logger *logger.Logger
}

// ConnectPublisher creates the sync producer with retries so worker startup
// survives a briefly unavailable broker.
func ConnectPublisher(cfg *Config, client sarama.Client, log *logger.Logger, tracer trace.Tracer) (*Publisher, error) {
	var producer sarama.SyncProducer

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 5 * time.Minute
	expBackoff.InitialInterval = 5 * time.Second

	operation := func() error {
		p, err := sarama.NewSyncProducerFromClient(client)
		if err != nil {
			return fmt.Errorf("creating producer: %w", err)
		}
		producer = p
		return nil
	}

	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, fmt.Errorf("failed to connect publisher after retries: %w", err)
	}

	return &Publisher{
		producer: producer,
		topic:    cfg.Topic,
		tracer:   tracer,
		logger:   log.With("component", "kafka_publisher"),
	}, nil
}

// PublishSubmissionEvent serializes and publishes one lifecycle event.
func (p *Publisher) PublishSubmissionEvent(ctx context.Context, evt submission.Event) error {
	ctx, span := p.tracer.Start(ctx, "kafka.publish_submission_event",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("event_type", string(evt.Type)),
			attribute.String("submission_id", evt.SubmissionID.String()),
		),
	)
	defer span.End()

	payload, err := json.Marshal(evt)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("marshaling event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(evt.SubmissionID.String()),
		Value: sarama.ByteEncoder(payload),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("publishing event %s for submission %s: %w", evt.Type, evt.SubmissionID, err)
	}

	p.logger.Debug(ctx, "Published lifecycle event",
		"event_type", evt.Type, "submission_id", evt.SubmissionID,
		"partition", partition, "offset", offset)
	return nil
}

// Close releases the underlying producer.
func (p *Publisher) Close() error { return p.producer.Close() }
