package events

import (
	"context"
	"encoding/json"
	"fmt"

	"mrtdreader/internal/platform/kafka/producer"
)

// DefaultTopic receives ScanFinished records.
const DefaultTopic = "mrtd.scan-finished"

// Producer is the subset of *producer.Producer the publisher needs.
type Producer interface {
	Produce(ctx context.Context, msg *producer.Message) error
}

// KafkaPublisher writes records as JSON keyed by scan ID.
type KafkaPublisher struct {
	producer Producer
	topic    string
}

func NewKafkaPublisher(p Producer, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaPublisher{producer: p, topic: topic}
}

func (k *KafkaPublisher) Publish(ctx context.Context, rec ScanFinished) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode scan event: %w", err)
	}
	return k.producer.Produce(ctx, &producer.Message{
		Topic: k.topic,
		Key:   []byte(rec.ScanID),
		Value: value,
		Headers: map[string]string{
			"event_type": "scan.finished",
			"outcome":    rec.Outcome,
		},
	})
}
