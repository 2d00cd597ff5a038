package bus

import (
	"context"
	"strconv"
	"time"

	"github.com/openmsi/msistream/internal/debug"
	"github.com/openmsi/msistream/internal/errors"
	"github.com/segmentio/kafka-go"
)

// KafkaProducer produces messages through a kafka-go async writer. The
// writer's completion callback runs on writer-owned goroutines and only
// queues the outcome; the delivery callbacks themselves run during Poll and
// Flush, the way the workers expect.
type KafkaProducer struct {
	w *kafka.Writer
	q *completionQueue
}

var _ Producer = &KafkaProducer{}

// NewKafkaProducer builds a producer for topic from the [cluster] and
// [producer] sections of cfg. Messages are partitioned by hashing the key,
// which keeps all chunks of one file on one partition and therefore in
// order.
func NewKafkaProducer(cfg *Config, topic string) (*KafkaProducer, error) {
	brokers := cfg.BootstrapServers()
	if brokers == nil {
		return nil, errors.New("no bootstrap.servers configured")
	}
	if topic == "" {
		return nil, errors.New("no topic given")
	}

	q := newCompletionQueue()

	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Async:                  true,
		AllowAutoTopicCreation: true,
		MaxAttempts:            10,
		BatchTimeout:           20 * time.Millisecond,
		Completion: func(messages []kafka.Message, err error) {
			for _, msg := range messages {
				cb, _ := msg.WriterData.(DeliveryFunc)
				q.complete(cb, Delivery{
					Partition: msg.Partition,
					Offset:    msg.Offset,
					Err:       err,
				})
			}
		},
	}

	applyProducerSettings(w, cfg.Producer)

	debug.Log("producer for topic %v on %v", topic, brokers)
	return &KafkaProducer{w: w, q: q}, nil
}

// applyProducerSettings maps the recognized keys of the [producer] section
// onto the writer. Unknown keys are ignored, the file format allows settings
// for other clients.
func applyProducerSettings(w *kafka.Writer, settings map[string]string) {
	for key, value := range settings {
		switch key {
		case "batch.num.messages":
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				w.BatchSize = n
			}
		case "batch.size":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil && n > 0 {
				w.BatchBytes = n
			}
		case "linger.ms":
			if n, err := strconv.Atoi(value); err == nil && n >= 0 {
				w.BatchTimeout = time.Duration(n) * time.Millisecond
			}
		case "retries":
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				w.MaxAttempts = n
			}
		case "acks":
			switch value {
			case "0":
				w.RequiredAcks = kafka.RequireNone
			case "1":
				w.RequiredAcks = kafka.RequireOne
			case "all", "-1":
				w.RequiredAcks = kafka.RequireAll
			}
		case "compression.type":
			switch value {
			case "gzip":
				w.Compression = kafka.Gzip
			case "snappy":
				w.Compression = kafka.Snappy
			case "lz4":
				w.Compression = kafka.Lz4
			case "zstd":
				w.Compression = kafka.Zstd
			}
		default:
			debug.Log("ignoring producer setting %v", key)
		}
	}
}

// Produce hands one message to the writer. In async mode the writer retries
// transient broker errors internally; whatever error reaches the completion
// callback is permanent.
func (p *KafkaProducer) Produce(ctx context.Context, key, value []byte, onDelivery DeliveryFunc) error {
	p.q.add(1)

	err := p.w.WriteMessages(ctx, kafka.Message{
		Key:        key,
		Value:      value,
		WriterData: onDelivery,
	})
	if err != nil {
		// the message never entered the writer, take it back
		p.q.add(-1)
		return errors.Wrap(err, "WriteMessages")
	}
	return nil
}

// Poll services pending delivery callbacks on the calling goroutine.
func (p *KafkaProducer) Poll(timeout time.Duration) int {
	return p.q.poll(timeout)
}

// Flush waits until every outstanding message has fired its callback. A
// timeout <= 0 waits without bound.
func (p *KafkaProducer) Flush(timeout time.Duration) int {
	return p.q.flush(timeout)
}

// Close flushes the writer's internal batches and releases its connections.
func (p *KafkaProducer) Close() error {
	return errors.Wrap(p.w.Close(), "Close")
}
