package uploader

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openmsi/msistream/internal/bus"
	"github.com/openmsi/msistream/internal/datafile"
	"github.com/openmsi/msistream/internal/debug"
	"github.com/openmsi/msistream/internal/errors"
	"golang.org/x/sync/errgroup"
)

// Status is the lifecycle state of the controller.
type Status uint8

const (
	Starting Status = iota
	Running
	Draining
	Stopped
)

// Config holds everything the controller needs, validated once at
// construction and immutable afterwards.
type Config struct {
	WatchedDir    string
	AdmitPattern  string
	ChunkSize     int64
	WorkerCount   int
	QueueCapacity int
	// if false, files already present at startup are recorded but not
	// uploaded
	UploadExisting bool
	// bounds of the adaptive scan interval
	MinWait time.Duration
	MaxWait time.Duration
}

func (cfg *Config) validate() error {
	if cfg.WatchedDir == "" {
		return errors.Fatal("no directory to watch given")
	}
	if cfg.ChunkSize <= 0 {
		return errors.Fatalf("invalid chunk size %d", cfg.ChunkSize)
	}
	if cfg.WorkerCount <= 0 {
		return errors.Fatalf("invalid worker count %d", cfg.WorkerCount)
	}
	if cfg.QueueCapacity <= 0 {
		return errors.Fatalf("invalid queue capacity %d", cfg.QueueCapacity)
	}
	if cfg.MinWait <= 0 || cfg.MaxWait < cfg.MinWait {
		return errors.Fatalf("invalid scan interval bounds %v / %v", cfg.MinWait, cfg.MaxWait)
	}
	return nil
}

// Controller owns the registry, the queue, the scanner and the worker pool,
// runs the scheduling iteration on a single goroutine and executes the drain
// protocol on shutdown.
type Controller struct {
	cfg      Config
	registry *datafile.Registry
	queue    *datafile.Queue
	scanner  *Scanner
	producer bus.Producer

	workers *errgroup.Group
	wait    *backoff.ExponentialBackOff

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	err      error

	mu     sync.Mutex
	status Status
}

// New validates cfg and builds a controller that produces through producer.
// The producer is owned by the controller from here on and closed during
// shutdown.
func New(cfg Config, producer bus.Producer) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	admit, err := regexp.Compile(cfg.AdmitPattern)
	if err != nil {
		return nil, errors.Fatalf("invalid admit pattern %q: %v", cfg.AdmitPattern, err)
	}

	registry := datafile.NewRegistry()

	wait := backoff.NewExponentialBackOff()
	wait.InitialInterval = cfg.MinWait
	wait.MaxInterval = cfg.MaxWait
	wait.Multiplier = 1.5
	wait.RandomizationFactor = 0
	wait.MaxElapsedTime = 0

	return &Controller{
		cfg:      cfg,
		registry: registry,
		queue:    datafile.NewQueue(cfg.QueueCapacity),
		scanner:  NewScanner(cfg.WatchedDir, admit, registry),
		producer: producer,
		wait:     wait,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Registry exposes the file registry, e.g. for progress reports.
func (c *Controller) Registry() *datafile.Registry {
	return c.registry
}

// Status returns the controller's lifecycle state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// Start records the pre-existing directory contents, starts the worker pool
// and launches the control goroutine. It returns immediately; use
// AwaitTermination to wait for the drain to finish.
func (c *Controller) Start(ctx context.Context) {
	debug.Log("starting: %d workers, chunk size %d, queue capacity %d",
		c.cfg.WorkerCount, c.cfg.ChunkSize, c.cfg.QueueCapacity)

	// the first sighting of the files present at startup fixes their upload
	// flag; without UploadExisting they are registered later but never
	// uploaded
	c.scanner.Scan(c.cfg.UploadExisting)

	c.workers, _ = errgroup.WithContext(ctx)
	runWorkers(ctx, c.workers, c.cfg.WorkerCount, c.queue, c.producer)

	go c.run(ctx)
}

// RequestStop asks the control loop to drain and shut down. It may be called
// from any goroutine, multiple times.
func (c *Controller) RequestStop() {
	c.stopOnce.Do(func() {
		debug.Log("stop requested")
		close(c.stop)
	})
}

// AwaitTermination blocks until the drain protocol has completed, including
// the final producer flush and close, and returns the first unrecoverable
// producer error, if any.
func (c *Controller) AwaitTermination() error {
	<-c.done
	return c.err
}

func (c *Controller) stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)

	// an external context cancelation counts as a stop request
	go func() {
		select {
		case <-ctx.Done():
			c.RequestStop()
		case <-c.done:
		}
	}()

	c.setStatus(Running)

	for !c.stopped() {
		c.iterate()
	}

	c.setStatus(Draining)
	c.err = c.drain()
	c.setStatus(Stopped)
}

// iterate performs one scheduling step: as long as any file is hashed or in
// progress, ask the first one in insertion order for a burst of chunks.
// Discovery and hashing only happen in the idle step, so a file that is
// still stabilizing never stalls an upload that has already begun.
func (c *Controller) iterate() {
	f := c.registry.NextUploadable()
	if f == nil {
		c.idle()
		return
	}

	// one file per iteration, one chunk per worker: keeps every worker
	// busy without letting a single file monopolize memory
	if f.EmitChunks(c.queue, c.cfg.WorkerCount) > 0 {
		c.wait.Reset()
	}
}

func (c *Controller) idle() {
	c.sleep(c.wait.NextBackOff())
	if c.stopped() {
		return
	}

	progress := c.scanner.Scan(true) > 0
	if c.prepareNext() {
		progress = true
	}
	if progress {
		c.wait.Reset()
	}
}

// prepareNext hashes the first file that still needs it. A file that is not
// readable yet stays registered and is retried on a later tick. Reports
// whether a file became ready to emit.
func (c *Controller) prepareNext() bool {
	f := c.registry.NextRegistered()
	if f == nil {
		return false
	}

	err := f.Prepare(c.cfg.ChunkSize)
	switch {
	case err == datafile.ErrNotReady:
		debug.Log("%v is not readable yet, retrying later", f.Path())
		return false
	case err != nil:
		debug.Log("preparing %v failed: %v", f.Path(), err)
		return false
	}
	return true
}

// sleep waits for d, returning early when a stop is requested.
func (c *Controller) sleep(d time.Duration) {
	if d <= 0 {
		d = c.cfg.MaxWait
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-c.stop:
	}
}

// drain executes the shutdown protocol: finish enqueueing every file whose
// upload has started, hand one shutdown token per worker to the queue, join
// the workers, then flush and close the producer. Files that were hashed but
// never started are deliberately left behind so that shutdown is bounded by
// work already begun.
func (c *Controller) drain() error {
	partial := c.registry.InProgress()
	if len(partial) > 0 {
		var paths []string
		for _, f := range partial {
			paths = append(paths, f.Path())
		}
		debug.Log("draining %d partially enqueued files: %v", len(partial), strings.Join(paths, ", "))
	}

	for _, f := range partial {
		for f.State() == datafile.InProgress {
			f.EmitChunks(c.queue, c.cfg.WorkerCount)
		}
	}

	for i := 0; i < c.cfg.WorkerCount; i++ {
		c.queue.PutShutdown()
	}

	err := c.workers.Wait()

	debug.Log("workers joined, flushing producer")
	c.producer.Flush(-1)

	if cerr := c.producer.Close(); err == nil {
		err = cerr
	}

	return err
}
