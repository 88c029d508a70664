package kafka

import (
	"context"
	"encoding/json"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/mosala-finance/mosala/internal/events"
)

// Publisher delivers lending events to a Kafka topic, keyed by operation id
// so all events of one saga land on the same partition.
type Publisher struct {
	writer *kafkago.Writer
}

// NewPublisher wraps a configured Kafka writer.
func NewPublisher(writer *kafkago.Writer) *Publisher {
	return &Publisher{writer: writer}
}

// Publish marshals the event and writes it to the topic.
func (p *Publisher) Publish(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(event.OperationID),
		Value: payload,
	})
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
