package bus

import (
	"context"
	"sync"
	"time"
)

// Delivery is the broker outcome for one produced message. Err is nil when
// the broker acknowledged the write; a non-nil Err is permanent, transient
// failures are retried inside the client and never surfaced here.
type Delivery struct {
	Partition int
	Offset    int64
	Err       error
}

// DeliveryFunc is invoked once per produced message when its outcome is
// known. Callbacks are serviced by Poll and Flush on the calling goroutine.
type DeliveryFunc func(Delivery)

// Producer is the narrow contract the uploader core depends on. Produce is
// asynchronous; the delivery callback for each message fires during a later
// Poll or Flush call. Workers must call Poll regularly, that is part of the
// contract, not an implementation detail.
type Producer interface {
	// Produce sends one message asynchronously. The returned error covers
	// only immediate hand-off failures; the delivery outcome arrives through
	// onDelivery.
	Produce(ctx context.Context, key, value []byte, onDelivery DeliveryFunc) error

	// Poll services pending delivery callbacks. With a positive timeout it
	// waits up to that long for at least one outcome to arrive. Returns the
	// number of callbacks served.
	Poll(timeout time.Duration) int

	// Flush blocks until every outstanding message has fired its callback.
	// A timeout <= 0 means wait without bound. Returns the number of
	// messages still outstanding when it gave up.
	Flush(timeout time.Duration) int

	// Close releases the broker resources.
	Close() error
}

// completionQueue collects finished deliveries until a Poll call services
// them. The transport appends from its own goroutines, Poll drains on the
// caller's.
type completionQueue struct {
	mu          sync.Mutex
	completed   []completion
	outstanding int
	signal      chan struct{}
}

type completion struct {
	cb DeliveryFunc
	d  Delivery
}

func newCompletionQueue() *completionQueue {
	return &completionQueue{signal: make(chan struct{}, 1)}
}

func (q *completionQueue) add(n int) {
	q.mu.Lock()
	q.outstanding += n
	q.mu.Unlock()
}

func (q *completionQueue) complete(cb DeliveryFunc, d Delivery) {
	q.mu.Lock()
	q.completed = append(q.completed, completion{cb: cb, d: d})
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// service runs all collected callbacks on the calling goroutine and returns
// how many it ran.
func (q *completionQueue) service() int {
	q.mu.Lock()
	batch := q.completed
	q.completed = nil
	q.mu.Unlock()

	for _, c := range batch {
		if c.cb != nil {
			c.cb(c.d)
		}
	}

	q.mu.Lock()
	q.outstanding -= len(batch)
	q.mu.Unlock()

	return len(batch)
}

func (q *completionQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.outstanding
}

// poll implements the Poll contract on top of service.
func (q *completionQueue) poll(timeout time.Duration) int {
	n := q.service()
	if n > 0 || timeout <= 0 {
		return n
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// the signal may be left over from a completion an earlier call already
	// served, so keep waiting until something is actually served
	for {
		select {
		case <-q.signal:
		case <-timer.C:
			return n + q.service()
		}
		if n = q.service(); n > 0 {
			return n
		}
	}
}

// flush implements the Flush contract: loop polling until nothing is
// outstanding or the timeout expires. timeout <= 0 waits without bound.
func (q *completionQueue) flush(timeout time.Duration) int {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if q.pending() == 0 {
			return 0
		}

		wait := 100 * time.Millisecond
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return q.pending()
			}
			if remaining < wait {
				wait = remaining
			}
		}
		q.poll(wait)
	}
}
