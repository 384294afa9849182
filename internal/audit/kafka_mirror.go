package audit

import (
	"context"
	"errors"
)

// Producer is satisfied by *kafka.Producer.
type Producer interface {
	Produce(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// KafkaMirror copies redacted entries onto a topic, keyed by request so a
// request's events stay on one partition.
type KafkaMirror struct {
	producer Producer
	topic    string
}

func NewKafkaMirror(producer Producer, topic string) (*KafkaMirror, error) {
	if producer == nil || topic == "" {
		return nil, errors.New("kafka mirror: producer and topic are required")
	}
	return &KafkaMirror{producer: producer, topic: topic}, nil
}

func (m *KafkaMirror) Mirror(ctx context.Context, e Entry, line []byte) error {
	return m.producer.Produce(ctx, m.topic, []byte(e.RequestID), line, map[string]string{
		"event_type": string(e.Type),
	})
}
