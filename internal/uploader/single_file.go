package uploader

import (
	"context"
	"path/filepath"
	"time"

	"github.com/openmsi/msistream/internal/bus"
	"github.com/openmsi/msistream/internal/datafile"
	"github.com/openmsi/msistream/internal/errors"
	"golang.org/x/sync/errgroup"
)

// UploadSingleFile chunks and produces one file through the same queue and
// worker machinery the directory uploader uses, then flushes and closes the
// producer. It returns once every chunk has been acknowledged.
func UploadSingleFile(ctx context.Context, producer bus.Producer, path string, chunkSize int64, workerCount, queueCapacity int) (*datafile.File, error) {
	if chunkSize <= 0 || workerCount <= 0 || queueCapacity <= 0 {
		return nil, errors.Fatalf("invalid upload parameters: chunk size %d, %d workers, queue capacity %d",
			chunkSize, workerCount, queueCapacity)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(err, "Abs")
	}

	f := datafile.NewFile(abs, "", filepath.Base(abs), true)

	// a file that is still being written gets a few chances
	for i := 0; ; i++ {
		err = f.Prepare(chunkSize)
		if err != datafile.ErrNotReady {
			break
		}
		if i >= probeRetries {
			return nil, errors.Fatalf("%v is not readable, is it still being written?", abs)
		}
		time.Sleep(probePause)
	}
	if err != nil {
		return nil, err
	}

	queue := datafile.NewQueue(queueCapacity)
	wg, wctx := errgroup.WithContext(ctx)
	runWorkers(wctx, wg, workerCount, queue, producer)

	for f.State() == datafile.Hashed || f.State() == datafile.InProgress {
		f.EmitChunks(queue, workerCount)
	}

	for i := 0; i < workerCount; i++ {
		queue.PutShutdown()
	}

	err = wg.Wait()

	producer.Flush(-1)
	if cerr := producer.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return f, err
	}

	if f.State() == datafile.Failed {
		return f, f.Err()
	}
	return f, nil
}
