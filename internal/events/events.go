package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

const (
	TypeBreakerTripped   = "breaker.tripped"
	TypeBreakerReset     = "breaker.reset"
	TypeBreakerAutoReset = "breaker.auto_reset"
)

// Event is a breaker state transition notification. Exactly one event is
// published per transition; repeated trips or resets of an already
// transitioned breaker produce nothing.
type Event struct {
	Type       string    `json:"type"`
	BreakerID  string    `json:"breaker_id"`
	TenantID   string    `json:"tenant_id"`
	Scope      string    `json:"scope"`
	Reason     string    `json:"reason,omitempty"`
	Mode       string    `json:"mode,omitempty"` // manual or auto, reset events only
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher delivers breaker events to downstream consumers. Publish
// failures must not fail the state transition that produced the event.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// KafkaPublisher writes breaker events to a Kafka topic, keyed by breaker ID
// so consumers see each breaker's transitions in order.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
	})
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.BreakerID),
		Value: payload,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher emits breaker events to the service log. It is the default
// sink when no broker is configured.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	log.Info().
		Str("event_type", event.Type).
		Str("breaker_id", event.BreakerID).
		Str("tenant_id", event.TenantID).
		Str("scope", event.Scope).
		Str("reason", event.Reason).
		Str("mode", event.Mode).
		Time("occurred_at", event.OccurredAt).
		Msg("breaker event published")
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
