package datafile

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/openmsi/msistream/internal/debug"
	"github.com/openmsi/msistream/internal/errors"
)

// ErrNotReady is returned by Prepare when the file cannot be opened for
// shared reading yet, e.g. because the writing process still holds it. The
// caller is expected to retry on a later tick.
var ErrNotReady = errors.New("file is not ready to be read")

// State describes how far a tracked file has progressed.
type State uint8

const (
	// Registered: the file was seen by the scanner but not hashed yet.
	Registered State = iota
	// Hashed: size, hash and chunk count are known, no chunk enqueued yet.
	Hashed
	// InProgress: at least one chunk has been enqueued.
	InProgress
	// FullyEnqueued: every chunk has been handed to the queue.
	FullyEnqueued
	// FullyAcked: every chunk delivery has been acknowledged by the broker.
	FullyAcked
	// Failed: a chunk could not be read or delivered permanently.
	Failed
)

func (s State) String() string {
	switch s {
	case Registered:
		return "registered"
	case Hashed:
		return "hashed"
	case InProgress:
		return "in progress"
	case FullyEnqueued:
		return "fully enqueued"
	case FullyAcked:
		return "fully acknowledged"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("unknown state %d", s)
}

// File tracks one source file from discovery through chunking to the final
// broker acknowledgement. The enqueue cursor and the acknowledgement counter
// are atomics because delivery callbacks fire from producer-owned goroutines;
// state transitions take the mutex.
type File struct {
	path     string
	subdir   string
	filename string
	toUpload bool

	mu          sync.Mutex
	state       State
	err         error
	size        int64
	chunkSize   int64
	chunkCount  int64
	fileHash    []byte
	fingerprint string
	chunkHashes [][]byte

	nextChunk atomic.Int64
	acked     atomic.Int64
}

// NewFile creates a tracked file. path must be absolute and resolved, subdir
// is the directory part relative to the watched root ("" for the root
// itself). Files registered with toUpload == false are recorded but never
// emitted.
func NewFile(path, subdir, filename string, toUpload bool) *File {
	return &File{
		path:     path,
		subdir:   subdir,
		filename: filename,
		toUpload: toUpload,
		state:    Registered,
	}
}

func (f *File) Path() string     { return f.path }
func (f *File) Subdir() string   { return f.subdir }
func (f *File) Filename() string { return f.filename }
func (f *File) ToUpload() bool   { return f.toUpload }

// State returns the current lifecycle state.
func (f *File) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Err returns the error that moved the file into the Failed state, if any.
func (f *File) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Size returns the file size determined by Prepare.
func (f *File) Size() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size
}

// ChunkCount returns the number of chunks determined by Prepare.
func (f *File) ChunkCount() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chunkCount
}

// FileHash returns the SHA-256 of the whole file.
func (f *File) FileHash() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fileHash
}

// Fingerprint returns the stable identity of the file, derived from its
// relative path, size and content hash. It doubles as the message key.
func (f *File) Fingerprint() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fingerprint
}

// AckedChunks returns the number of chunks acknowledged by the broker.
func (f *File) AckedChunks() int64 {
	return f.acked.Load()
}

// EnqueuedChunks returns the number of chunks handed to the queue so far.
func (f *File) EnqueuedChunks() int64 {
	return f.nextChunk.Load()
}

// Prepare opens the file and streams it once to determine its size, its
// SHA-256, the per-chunk digests and the chunk count. A permission error is
// reported as ErrNotReady so the caller retries later; a vanished file moves
// the state to Failed. On success the state becomes Hashed and the hashes are
// immutable from then on.
func (f *File) Prepare(chunkSize int64) error {
	if chunkSize <= 0 {
		return errors.Errorf("invalid chunk size %d", chunkSize)
	}

	fd, err := os.Open(f.path)
	if err != nil {
		if os.IsPermission(err) {
			debug.Log("%v is not readable yet", f.path)
			return ErrNotReady
		}
		if os.IsNotExist(err) {
			f.fail(ErrFileDisappeared)
			return ErrFileDisappeared
		}
		err = errors.Wrap(err, "Open")
		f.fail(err)
		return err
	}
	defer func() {
		_ = fd.Close()
	}()

	whole := sha256.New()
	buf := make([]byte, chunkSize)
	var size int64
	var chunkHashes [][]byte

	for {
		n, rerr := io.ReadFull(fd, buf)
		if n > 0 {
			sum := sha256.Sum256(buf[:n])
			chunkHashes = append(chunkHashes, sum[:])
			_, _ = whole.Write(buf[:n])
			size += int64(n)
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			rerr = errors.Wrap(rerr, "Read")
			f.fail(rerr)
			return rerr
		}
	}

	if size == 0 {
		// either the writer truncated it or the scanner raced a rewrite,
		// leave it registered and look again later
		return ErrNotReady
	}

	fileHash := whole.Sum(nil)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.size = size
	f.chunkSize = chunkSize
	f.chunkCount = int64(len(chunkHashes))
	f.chunkHashes = chunkHashes
	f.fileHash = fileHash
	f.fingerprint = fingerprint(f.subdir, f.filename, size, fileHash)
	f.state = Hashed

	debug.Log("%v: %d bytes, %d chunks, fingerprint %v", f.path, size, f.chunkCount, f.fingerprint)
	return nil
}

func fingerprint(subdir, filename string, size int64, fileHash []byte) string {
	h := xxhash.New()
	_, _ = h.WriteString(subdir)
	_, _ = h.WriteString("/")
	_, _ = h.WriteString(filename)
	var sz [8]byte
	binary.BigEndian.PutUint64(sz[:], uint64(size))
	_, _ = h.Write(sz[:])
	_, _ = h.Write(fileHash)

	var sum [8]byte
	binary.BigEndian.PutUint64(sum[:], h.Sum64())
	return hex.EncodeToString(sum[:])
}

func (f *File) chunkAt(i int64) *Chunk {
	f.mu.Lock()
	defer f.mu.Unlock()

	length := f.chunkSize
	offset := i * f.chunkSize
	if i == f.chunkCount-1 {
		length = f.size - offset
	}
	return &Chunk{
		file:   f,
		Index:  i,
		Offset: offset,
		Length: length,
		Hash:   f.chunkHashes[i],
	}
}

// EmitChunks enqueues up to budget consecutive chunks starting at the
// enqueue cursor. The cursor is advanced before the chunk is released to the
// queue, so no chunk is ever emitted twice, and no lock is held across the
// blocking put. Returns the number of chunks emitted.
func (f *File) EmitChunks(q *Queue, budget int) int {
	f.mu.Lock()
	if f.state == Hashed {
		f.state = InProgress
	}
	count := f.chunkCount
	failed := f.state == Failed
	f.mu.Unlock()

	if failed {
		return 0
	}

	emitted := 0
	for emitted < budget {
		i := f.nextChunk.Load()
		if i >= count {
			break
		}

		c := f.chunkAt(i)
		f.nextChunk.Store(i + 1)
		q.Put(c)
		emitted++

		// a delivery callback may have failed the file while we were
		// blocked on the queue, in that case stop emitting
		if f.State() == Failed {
			return emitted
		}
	}

	if f.nextChunk.Load() >= count {
		f.mu.Lock()
		if f.state == InProgress {
			f.state = FullyEnqueued
			debug.Log("%v fully enqueued", f.path)
		}
		f.mu.Unlock()
	}

	return emitted
}

// onDelivery records the outcome for one chunk. It runs on producer callback
// goroutines and must not block beyond the counter update.
func (f *File) onDelivery(index int64, err error) {
	if err != nil {
		debug.Log("chunk %d of %v failed: %v", index, f.path, err)
		f.fail(err)
		return
	}

	acked := f.acked.Add(1)

	f.mu.Lock()
	if acked == f.chunkCount && f.state != Failed {
		f.state = FullyAcked
		debug.Log("%v fully acknowledged", f.path)
	}
	f.mu.Unlock()
}

func (f *File) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Failed || f.state == FullyAcked {
		return
	}
	f.state = Failed
	f.err = err
}

// StatusMsg returns a human readable progress line for the file.
func (f *File) StatusMsg() string {
	f.mu.Lock()
	state := f.state
	size := f.size
	count := f.chunkCount
	err := f.err
	f.mu.Unlock()

	switch state {
	case Registered:
		return fmt.Sprintf("%s has not been hashed yet", f.path)
	case Failed:
		return fmt.Sprintf("%s failed: %v", f.path, err)
	case FullyAcked:
		return fmt.Sprintf("%s (%s) is fully delivered", f.path, humanize.IBytes(uint64(size)))
	default:
		return fmt.Sprintf("%s (%s): %d/%d chunks enqueued, %d acknowledged",
			f.path, humanize.IBytes(uint64(size)), f.nextChunk.Load(), count, f.acked.Load())
	}
}
