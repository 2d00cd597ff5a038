package datafile

import (
	"bytes"
	"crypto/sha256"
	"io"
	"os"

	"github.com/openmsi/msistream/internal/debug"
	"github.com/openmsi/msistream/internal/errors"
)

// ErrChunkDataCorrupted is returned when the bytes read for a chunk no longer
// match the digest recorded when the file was hashed, i.e. the file was
// modified after it was admitted.
var ErrChunkDataCorrupted = errors.New("chunk data does not match recorded hash")

// ErrFileDisappeared is returned when the source file of a chunk cannot be
// found anymore.
var ErrFileDisappeared = errors.New("source file disappeared")

// Chunk identifies one immutable byte range of one tracked file. The payload
// bytes are not kept in memory, they are re-read from disk when the chunk is
// serialized.
type Chunk struct {
	file *File

	Index  int64
	Offset int64
	Length int64
	Hash   []byte
}

// Key returns the message key for this chunk. All chunks of one file share
// the same key so that the broker preserves per-file order.
func (c *Chunk) Key() []byte {
	return []byte(c.file.Fingerprint())
}

// File returns the file this chunk belongs to.
func (c *Chunk) File() *File {
	return c.file
}

// ReadData reads the chunk's byte range from disk and verifies it against the
// digest recorded when the file was hashed. The file descriptor is opened per
// call and closed before returning.
func (c *Chunk) ReadData() ([]byte, error) {
	f, err := os.Open(c.file.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileDisappeared
		}
		return nil, errors.Wrap(err, "Open")
	}
	defer func() {
		_ = f.Close()
	}()

	buf := make([]byte, c.Length)
	n, err := f.ReadAt(buf, c.Offset)
	if err == io.EOF && int64(n) == c.Length {
		// reading the last chunk right up to EOF is fine
		err = nil
	}
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			// the file shrank under us
			return nil, ErrChunkDataCorrupted
		}
		return nil, errors.Wrap(err, "ReadAt")
	}

	sum := sha256.Sum256(buf)
	if !bytes.Equal(sum[:], c.Hash) {
		debug.Log("chunk %v of %v: hash mismatch", c.Index, c.file.Path())
		return nil, ErrChunkDataCorrupted
	}

	return buf, nil
}

// Serialize reads the chunk's bytes from disk and encodes the full wire
// record. It is pure and repeatable, so the producer client may retry it.
func (c *Chunk) Serialize() ([]byte, error) {
	payload, err := c.ReadData()
	if err != nil {
		return nil, err
	}

	rec := Record{
		Fingerprint: c.file.Fingerprint(),
		Subdir:      c.file.Subdir(),
		Filename:    c.file.Filename(),
		FileHash:    c.file.FileHash(),
		ChunkIndex:  c.Index,
		ChunkCount:  c.file.ChunkCount(),
		Offset:      c.Offset,
		Length:      c.Length,
		ChunkHash:   c.Hash,
		Payload:     payload,
	}
	return rec.Marshal()
}

// Complete records the delivery outcome for this chunk on its file. A nil err
// counts the chunk as acknowledged, a non-nil err marks the file as failed.
// It is safe to call from producer callback goroutines.
func (c *Chunk) Complete(err error) {
	c.file.onDelivery(c.Index, err)
}
