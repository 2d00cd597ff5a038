package datafile

// Queue is the bounded FIFO between the control loop and the producer
// workers. It carries either a chunk or a shutdown token; Put blocks while
// the queue is full, which is the backpressure boundary of the uploader.
type Queue struct {
	ch chan queueItem
}

type queueItem struct {
	chunk    *Chunk
	shutdown bool
}

// NewQueue creates a queue holding at most capacity items.
func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan queueItem, capacity)}
}

// Put enqueues a chunk, blocking while the queue is full.
func (q *Queue) Put(c *Chunk) {
	q.ch <- queueItem{chunk: c}
}

// PutShutdown enqueues one shutdown token. One token is placed per worker
// after all real chunks; each worker exits on receiving one.
func (q *Queue) PutShutdown() {
	q.ch <- queueItem{shutdown: true}
}

// Take dequeues the next item, blocking while the queue is empty. ok is
// false when a shutdown token was received.
func (q *Queue) Take() (c *Chunk, ok bool) {
	item := <-q.ch
	if item.shutdown {
		return nil, false
	}
	return item.chunk, true
}

// Len returns the number of items currently queued.
func (q *Queue) Len() int {
	return len(q.ch)
}
