package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ILLUVRSE/gxp-ledger/ledger/internal/canonical"
)

// Producer is the subset of KafkaProducer the publisher needs.
type Producer interface {
	Produce(ctx context.Context, key, value []byte, headers ...kafka.Header) (time.Time, error)
	Close() error
}

// Publisher emits stored records as canonical JSON keyed by record id.
type Publisher struct {
	producer Producer
}

// NewPublisher wraps p.
func NewPublisher(p Producer) *Publisher {
	return &Publisher{producer: p}
}

// Publish sends v under kind. Consumers can recompute audit hashes from the
// value because it is the canonical encoding.
func (p *Publisher) Publish(ctx context.Context, kind, id string, v interface{}) error {
	value, err := canonical.MarshalCanonical(v)
	if err != nil {
		return fmt.Errorf("canonicalize %s record: %w", kind, err)
	}
	headers := []kafka.Header{
		{Key: "kind", Value: []byte(kind)},
		{Key: "content-type", Value: []byte("application/json")},
	}
	if _, err := p.producer.Produce(ctx, []byte(id), value, headers...); err != nil {
		return fmt.Errorf("publish %s %s: %w", kind, id, err)
	}
	return nil
}

// Close closes the producer.
func (p *Publisher) Close() error {
	return p.producer.Close()
}
