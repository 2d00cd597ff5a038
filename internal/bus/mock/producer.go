// Package mock implements a bus.Producer for tests. Deliveries complete
// immediately when a message is produced, but the callbacks still only run
// during Poll and Flush, matching the real client's contract.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/openmsi/msistream/internal/bus"
)

// Message is one produced message.
type Message struct {
	Key   []byte
	Value []byte
}

// Producer collects produced messages and reports configurable outcomes.
type Producer struct {
	// DeliveryErr decides the delivery outcome for a message. A nil field
	// means every delivery succeeds.
	DeliveryErr func(key, value []byte) error
	// ProduceErr, when set, is returned by every Produce call.
	ProduceErr error

	mu          sync.Mutex
	messages    []Message
	completed   []func()
	outstanding int
	closed      bool
}

var _ bus.Producer = &Producer{}

// Messages returns a snapshot of everything produced so far, in produce
// order.
func (p *Producer) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := make([]Message, len(p.messages))
	copy(msgs, p.messages)
	return msgs
}

// Closed reports whether Close was called.
func (p *Producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Producer) Produce(_ context.Context, key, value []byte, onDelivery bus.DeliveryFunc) error {
	if p.ProduceErr != nil {
		return p.ProduceErr
	}

	var err error
	if p.DeliveryErr != nil {
		err = p.DeliveryErr(key, value)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.messages = append(p.messages, Message{Key: key, Value: value})
	offset := int64(len(p.messages) - 1)
	p.outstanding++

	d := bus.Delivery{Offset: offset, Err: err}
	p.completed = append(p.completed, func() {
		if onDelivery != nil {
			onDelivery(d)
		}
	})

	return nil
}

func (p *Producer) Poll(timeout time.Duration) int {
	n := p.service()
	if n > 0 || timeout <= 0 {
		return n
	}
	time.Sleep(timeout)
	return n + p.service()
}

func (p *Producer) Flush(timeout time.Duration) int {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		p.service()

		p.mu.Lock()
		outstanding := p.outstanding
		p.mu.Unlock()

		if outstanding == 0 {
			return 0
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return outstanding
		}
		time.Sleep(time.Millisecond)
	}
}

func (p *Producer) service() int {
	p.mu.Lock()
	batch := p.completed
	p.completed = nil
	p.mu.Unlock()

	for _, cb := range batch {
		cb()
	}

	p.mu.Lock()
	p.outstanding -= len(batch)
	p.mu.Unlock()

	return len(batch)
}

func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
