package events

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sirosfoundation/go-dcp-holder/pkg/config"
)

func testEvent() Event {
	return Event{
		Type:                 TypeRequestStateChanged,
		RequestID:            "req-1",
		ParticipantContextID: "p1",
		IssuerDID:            "did:web:issuer",
		State:                "REQUESTED",
		OccurredAt:           time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	publisher := NewLogPublisher(zap.New(core))

	require.NoError(t, publisher.Publish(context.Background(), testEvent()))
	require.NoError(t, publisher.Close())

	entries := logs.FilterMessage(TypeRequestStateChanged).All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-1", fields["holder_pid"])
	assert.Equal(t, "REQUESTED", fields["state"])
}

func TestNewPublisher(t *testing.T) {
	logger := zap.NewNop()

	p, err := NewPublisher(config.EventsConfig{Type: "none"}, logger)
	require.NoError(t, err)
	assert.IsType(t, NoopPublisher{}, p)
	assert.NoError(t, p.Publish(context.Background(), testEvent()))

	p, err = NewPublisher(config.EventsConfig{Type: "log"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &LogPublisher{}, p)

	_, err = NewPublisher(config.EventsConfig{Type: "kafka"}, logger)
	assert.Error(t, err, "brokers are required")

	_, err = NewPublisher(config.EventsConfig{Type: "kafka", Kafka: config.KafkaConfig{Brokers: []string{"localhost:9092"}}}, logger)
	assert.Error(t, err, "topic is required")

	_, err = NewPublisher(config.EventsConfig{Type: "smoke-signals"}, logger)
	assert.Error(t, err)
}

func TestKafkaPublisher(t *testing.T) {
	brokers := os.Getenv("KAFKA_TEST_BROKERS")
	if brokers == "" {
		t.Skip("KAFKA_TEST_BROKERS not set")
	}

	publisher, err := NewKafkaPublisher(config.KafkaConfig{
		Brokers: strings.Split(brokers, ","),
		Topic:   "dcp-holder-test-events",
	}, zap.NewNop())
	require.NoError(t, err)
	defer publisher.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	assert.NoError(t, publisher.Publish(ctx, testEvent()))
}
