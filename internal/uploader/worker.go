package uploader

import (
	"context"

	"github.com/openmsi/msistream/internal/bus"
	"github.com/openmsi/msistream/internal/datafile"
	"github.com/openmsi/msistream/internal/debug"
	"github.com/openmsi/msistream/internal/errors"
	"golang.org/x/sync/errgroup"
)

// runWorkers starts count producer workers on wg. Each worker takes chunks
// from the queue, serializes them, hands them to the producer and services
// pending delivery callbacks. A worker exits when it receives a shutdown
// token.
func runWorkers(ctx context.Context, wg *errgroup.Group, count int, queue *datafile.Queue, producer bus.Producer) {
	for i := 0; i < count; i++ {
		wg.Go(func() error {
			return worker(ctx, queue, producer)
		})
	}
}

func worker(ctx context.Context, queue *datafile.Queue, producer bus.Producer) error {
	for {
		c, ok := queue.Take()
		if !ok {
			debug.Log("worker received shutdown token")
			return nil
		}

		produceChunk(ctx, producer, c)
		producer.Poll(0)
	}
}

// produceChunk serializes one chunk and hands it to the producer. Any
// failure, including a panic, is reported as a permanent delivery failure
// for this chunk so that no outcome is ever lost silently.
func produceChunk(ctx context.Context, producer bus.Producer, c *datafile.Chunk) {
	handedOff := false
	defer func() {
		if r := recover(); r != nil {
			debug.Log("worker panic: %v", r)
			if !handedOff {
				c.Complete(errors.Errorf("worker panic: %v", r))
			}
		}
	}()

	buf, err := c.Serialize()
	if err != nil {
		c.Complete(err)
		return
	}

	err = producer.Produce(ctx, c.Key(), buf, func(d bus.Delivery) {
		c.Complete(d.Err)
	})
	if err != nil {
		c.Complete(err)
		return
	}
	handedOff = true
}
