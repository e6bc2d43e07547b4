/*
kafka.go - Kafka-backed notification sink

PURPOSE:
  Publishes bill events as JSON to a Kafka topic, keyed by user ID so one
  citizen's notifications stay ordered within a partition. Synchronous
  writes with RequireOne acks: a publish error surfaces to the lifecycle
  manager, which parks the event for redelivery instead of losing it.
*/
package notify

import (
	"context"
	"encoding/json"

	"github.com/gridworks/billing-engine/billing"
	"github.com/gridworks/billing-engine/metrics"
	"github.com/segmentio/kafka-go"
)

// Kafka publishes billing events to a topic.
type Kafka struct {
	writer *kafka.Writer
}

// NewKafka builds a sink writing to the given brokers and topic.
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}
}

func (k *Kafka) Publish(ctx context.Context, ev billing.BillGeneratedEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.UserID),
		Value: value,
	}); err != nil {
		metrics.NotifyFailures.Inc()
		return err
	}
	return nil
}

func (k *Kafka) Close() error { return k.writer.Close() }

var _ billing.Sink = (*Kafka)(nil)
