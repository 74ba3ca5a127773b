// Package events publishes credential request lifecycle events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-dcp-holder/pkg/config"
)

// TypeRequestStateChanged is emitted whenever a holder request changes state
const TypeRequestStateChanged = "RequestStateChanged"

// Event describes a state change of a holder credential request
type Event struct {
	Type                 string    `json:"type"`
	RequestID            string    `json:"holderPid"`
	ParticipantContextID string    `json:"participantContextId"`
	IssuerDID            string    `json:"issuerDid,omitempty"`
	State                string    `json:"state"`
	ErrorDetail          string    `json:"errorDetail,omitempty"`
	OccurredAt           time.Time `json:"occurredAt"`
}

// Publisher delivers events
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NewPublisher creates the publisher selected by cfg
func NewPublisher(cfg config.EventsConfig, logger *zap.Logger) (Publisher, error) {
	switch cfg.Type {
	case "", "none":
		return NoopPublisher{}, nil
	case "log":
		return NewLogPublisher(logger), nil
	case "kafka":
		return NewKafkaPublisher(cfg.Kafka, logger)
	default:
		return nil, fmt.Errorf("unsupported events type: %s", cfg.Type)
	}
}

// NoopPublisher discards events
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, event Event) error { return nil }
func (NoopPublisher) Close() error                                  { return nil }

// LogPublisher writes events to the structured log
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a LogPublisher
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.Named("events")}
}

func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	p.logger.Info(event.Type,
		zap.String("holder_pid", event.RequestID),
		zap.String("participant", event.ParticipantContextID),
		zap.String("issuer", event.IssuerDID),
		zap.String("state", event.State),
		zap.String("error_detail", event.ErrorDetail),
		zap.Time("occurred_at", event.OccurredAt))
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// KafkaPublisher produces events to a Kafka topic keyed by holder pid, so all
// events of one request land in one partition in order.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	logger *zap.Logger
}

// NewKafkaPublisher creates a KafkaPublisher
func NewKafkaPublisher(cfg config.KafkaConfig, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic not configured")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ProducerLinger(5 * time.Millisecond),
		kgo.AllowAutoTopicCreation(),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &KafkaPublisher{client: client, topic: cfg.Topic, logger: logger.Named("events")}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.RequestID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "type", Value: []byte(event.Type)},
		},
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce event: %w", err)
	}
	return nil
}

// Close flushes buffered records and closes the client
func (p *KafkaPublisher) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("Kafka publisher closed with unflushed events", zap.Error(err))
	}
	p.client.Close()
	return nil
}
