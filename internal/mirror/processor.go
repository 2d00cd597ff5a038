// Package mirror implements the consumer side used to reassemble chunked
// files from the bus and optionally copy them into an object store.
package mirror

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/openmsi/msistream/internal/datafile"
	"github.com/openmsi/msistream/internal/debug"
	"github.com/openmsi/msistream/internal/errors"
)

// how many recently seen (fingerprint, index) pairs to remember for
// deduplicating redelivered chunks
const dedupCacheSize = 1 << 17

// Receiver consumes chunk records and writes them back into files below a
// local directory. Delivery is at-least-once, so chunks are deduplicated on
// (fingerprint, chunk index); a file is complete once every distinct chunk
// has arrived and its reassembled bytes match the recorded whole-file hash.
type Receiver struct {
	outDir string
	store  *ObjectStore

	seen    *lru.Cache[string, struct{}]
	partial map[string]*partialFile

	// Completed is called with the local path of every fully reassembled
	// and verified file.
	Completed func(path string)

	received  int
	duplicate int
	finished  int
}

type partialFile struct {
	subdir   string
	filename string
	count    int64
	fileHash []byte
	got      map[int64]bool
}

// NewReceiver creates a receiver writing below outDir. store may be nil when
// no object store is configured.
func NewReceiver(outDir string, store *ObjectStore) (*Receiver, error) {
	seen, err := lru.New[string, struct{}](dedupCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "lru.New")
	}

	return &Receiver{
		outDir:    outDir,
		store:     store,
		seen:      seen,
		partial:   make(map[string]*partialFile),
		Completed: func(string) {},
	}, nil
}

// Stats returns the number of chunks received, duplicates dropped and files
// completed so far.
func (r *Receiver) Stats() (received, duplicate, finished int) {
	return r.received, r.duplicate, r.finished
}

// Process handles one message from the bus. Malformed or corrupted records
// are logged and dropped, the stream continues.
func (r *Receiver) Process(ctx context.Context, value []byte) error {
	rec, err := datafile.UnmarshalRecord(value)
	if err != nil {
		debug.Log("dropping malformed record: %v", err)
		return nil
	}

	sum := sha256.Sum256(rec.Payload)
	if !bytes.Equal(sum[:], rec.ChunkHash) {
		debug.Log("dropping chunk %d of %v: payload does not match its hash", rec.ChunkIndex, rec.Filename)
		return nil
	}

	key := fmt.Sprintf("%s:%d", rec.Fingerprint, rec.ChunkIndex)
	if _, dup := r.seen.Get(key); dup {
		r.duplicate++
		return nil
	}

	path, err := r.writeChunk(rec)
	if err != nil {
		return err
	}

	r.seen.Add(key, struct{}{})
	r.received++

	pf, ok := r.partial[rec.Fingerprint]
	if !ok {
		pf = &partialFile{
			subdir:   rec.Subdir,
			filename: rec.Filename,
			count:    rec.ChunkCount,
			fileHash: rec.FileHash,
			got:      make(map[int64]bool),
		}
		r.partial[rec.Fingerprint] = pf
	}
	pf.got[rec.ChunkIndex] = true

	if int64(len(pf.got)) < pf.count {
		return nil
	}

	if err := r.finish(ctx, rec.Fingerprint, pf, path); err != nil {
		return err
	}
	return nil
}

func (r *Receiver) targetPath(subdir, filename string) string {
	return filepath.Join(r.outDir, filepath.FromSlash(subdir), filename)
}

func (r *Receiver) writeChunk(rec *datafile.Record) (string, error) {
	path := r.targetPath(rec.Subdir, rec.Filename)

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", errors.Wrap(err, "MkdirAll")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return "", errors.Wrap(err, "OpenFile")
	}

	_, err = f.WriteAt(rec.Payload, rec.Offset)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", errors.Wrapf(err, "writing chunk %d of %v", rec.ChunkIndex, path)
	}

	return path, nil
}

// finish verifies the reassembled file against the recorded whole-file hash
// and hands it to the object store.
func (r *Receiver) finish(ctx context.Context, fingerprint string, pf *partialFile, path string) error {
	sum, err := hashFile(path)
	if err != nil {
		return err
	}
	if !bytes.Equal(sum, pf.fileHash) {
		// the payloads were verified per chunk, so this means the sender
		// shipped inconsistent chunks; forget everything about the file so
		// a redelivered consistent set can rebuild it
		debug.Log("reassembled %v does not match its file hash", path)
		for i := int64(0); i < pf.count; i++ {
			r.seen.Remove(fmt.Sprintf("%s:%d", fingerprint, i))
		}
		pf.got = make(map[int64]bool)
		return nil
	}

	delete(r.partial, fingerprint)
	r.finished++
	debug.Log("completed %v (%d chunks)", path, pf.count)

	if r.store != nil {
		key := pf.filename
		if pf.subdir != "" {
			key = pf.subdir + "/" + pf.filename
		}
		if err := r.store.Upload(ctx, key, path); err != nil {
			return err
		}
	}

	r.Completed(path)
	return nil
}

func hashFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "Open")
	}
	defer func() {
		_ = f.Close()
	}()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, errors.Wrap(err, "Copy")
	}
	return h.Sum(nil), nil
}
