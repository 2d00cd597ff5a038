package bus

import (
	"context"

	"github.com/openmsi/msistream/internal/debug"
	"github.com/openmsi/msistream/internal/errors"
	"github.com/segmentio/kafka-go"
)

// Consumer reads messages from one topic as part of a consumer group. It is
// used by the mirror side to receive chunk records.
type Consumer struct {
	r *kafka.Reader
}

// NewConsumer builds a consumer for topic from the [cluster] and [consumer]
// sections of cfg.
func NewConsumer(cfg *Config, topic string) (*Consumer, error) {
	brokers := cfg.BootstrapServers()
	if brokers == nil {
		return nil, errors.New("no bootstrap.servers configured")
	}
	if topic == "" {
		return nil, errors.New("no topic given")
	}

	groupID := cfg.GroupID()
	if groupID == "" {
		return nil, errors.New("no group.id configured")
	}

	startOffset := kafka.LastOffset
	if cfg.Consumer["auto.offset.reset"] == "earliest" {
		startOffset = kafka.FirstOffset
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		Topic:       topic,
		StartOffset: startOffset,
		MinBytes:    1,
		MaxBytes:    64 << 20,
	})

	debug.Log("consumer group %v on topic %v", groupID, topic)
	return &Consumer{r: r}, nil
}

// Next blocks until the next message arrives and returns its key and value.
// The offset is committed to the group once the message is returned.
func (c *Consumer) Next(ctx context.Context) (key, value []byte, err error) {
	msg, err := c.r.ReadMessage(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "ReadMessage")
	}
	return msg.Key, msg.Value, nil
}

// Close shuts the reader down.
func (c *Consumer) Close() error {
	return errors.Wrap(c.r.Close(), "Close")
}
