package kafka

import (
	"context"
	"errors"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Consumer reads broadcast commands published by other services.
type Consumer struct {
	reader *kafkago.Reader
	log    *zap.SugaredLogger
}

func NewConsumer(brokers []string, topic, groupID string, log *zap.SugaredLogger) *Consumer {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{reader: r, log: log}
}

// Start blocks, handing each message to handle, until ctx is done.
// Handler errors are logged and the message is still committed.
func (c *Consumer) Start(ctx context.Context, handle func(ctx context.Context, key string, value []byte) error) {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			c.log.Warnw("kafka read error", "topic", c.reader.Config().Topic, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if err := handle(ctx, string(m.Key), m.Value); err != nil {
			c.log.Warnw("broadcast command rejected", "offset", m.Offset, "partition", m.Partition, "error", err)
		}
	}
}

func (c *Consumer) Close(ctx context.Context) error {
	if c.reader == nil {
		return nil
	}
	return c.reader.Close()
}
