package kafka

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/fathima-sithara/realtime-service/internal/events"
)

// Producer writes domain events to the events topic, keyed by room or document.
type Producer struct {
	writer *kafkago.Writer
	topic  string
}

func NewProducer(brokers []string, topic string) *Producer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		Async:        false,
	}
	return &Producer{writer: w, topic: topic}
}

func (p *Producer) Publish(ctx context.Context, ev events.Event) error {
	msg, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func encodeEvent(ev events.Event) (kafkago.Message, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return kafkago.Message{}, err
	}
	key := ev.Key
	if key == "" {
		key = ev.At.Format(time.RFC3339Nano)
	}
	return kafkago.Message{
		Key:     []byte(key),
		Value:   b,
		Time:    ev.At,
		Headers: []kafkago.Header{{Key: "event_type", Value: []byte(ev.Type)}},
	}, nil
}

func (p *Producer) Close(ctx context.Context) error {
	return p.writer.Close()
}
