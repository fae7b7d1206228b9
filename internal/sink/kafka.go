package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rickgao/goldstream/internal/model"
)

// MessageWriter is the subset of *kafka.Writer used by Kafka.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka exports ticks to a topic keyed by epic.
type Kafka struct {
	writer MessageWriter
}

var _ Publisher = (*Kafka)(nil)

// NewKafkaWriter builds a *kafka.Writer for the given brokers and topic.
func NewKafkaWriter(brokers []string, topic string, batchTimeout time.Duration) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batchTimeout,
		AllowAutoTopicCreation: true,
	}
}

// NewKafka creates a Kafka publisher.
func NewKafka(w MessageWriter) *Kafka {
	return &Kafka{writer: w}
}

func (k *Kafka) Name() string { return "kafka" }

// Publish writes one message per tick.
func (k *Kafka) Publish(ctx context.Context, ticks []model.Tick) error {
	if len(ticks) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(ticks))
	for _, tick := range ticks {
		payload, err := json.Marshal(tick)
		if err != nil {
			return fmt.Errorf("marshal tick: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(tick.Epic),
			Value: payload,
			Time:  tick.Timestamp,
		})
	}

	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
