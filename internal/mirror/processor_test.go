package mirror

import (
	"bytes"
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/openmsi/msistream/internal/datafile"
	rtest "github.com/openmsi/msistream/internal/test"
)

const testChunkSize = 16

// recordsFor splits data into chunk records the way the uploader does.
func recordsFor(t testing.TB, subdir, filename string, data []byte) [][]byte {
	t.Helper()

	fileHash := sha256.Sum256(data)
	count := int64((len(data) + testChunkSize - 1) / testChunkSize)

	var bufs [][]byte
	for i := int64(0); i < count; i++ {
		offset := i * testChunkSize
		end := offset + testChunkSize
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		payload := data[offset:end]
		chunkHash := sha256.Sum256(payload)

		rec := datafile.Record{
			Fingerprint: "fp-" + filename,
			Subdir:      subdir,
			Filename:    filename,
			FileHash:    fileHash[:],
			ChunkIndex:  i,
			ChunkCount:  count,
			Offset:      offset,
			Length:      end - offset,
			ChunkHash:   chunkHash[:],
			Payload:     payload,
		}
		buf, err := rec.Marshal()
		rtest.OK(t, err)
		bufs = append(bufs, buf)
	}
	return bufs
}

func TestReceiverReassembles(t *testing.T) {
	outDir := rtest.TempDir(t)
	r, err := NewReceiver(outDir, nil)
	rtest.OK(t, err)

	var completed []string
	r.Completed = func(path string) { completed = append(completed, path) }

	data := rtest.Random(70, 6*testChunkSize+5)
	records := recordsFor(t, "run-4", "trace.dat", data)

	// deliver out of order
	ctx := context.Background()
	for i := len(records) - 1; i >= 0; i-- {
		rtest.OK(t, r.Process(ctx, records[i]))
	}

	path := filepath.Join(outDir, "run-4", "trace.dat")
	rtest.Equals(t, []string{path}, completed)

	written, err := os.ReadFile(path)
	rtest.OK(t, err)
	rtest.Assert(t, bytes.Equal(data, written), "reassembled file differs from the original data")

	received, duplicate, finished := r.Stats()
	rtest.Equals(t, 7, received)
	rtest.Equals(t, 0, duplicate)
	rtest.Equals(t, 1, finished)
}

func TestReceiverDropsDuplicates(t *testing.T) {
	outDir := rtest.TempDir(t)
	r, err := NewReceiver(outDir, nil)
	rtest.OK(t, err)

	data := rtest.Random(71, 3*testChunkSize)
	records := recordsFor(t, "", "dup.dat", data)

	ctx := context.Background()
	rtest.OK(t, r.Process(ctx, records[0]))
	rtest.OK(t, r.Process(ctx, records[0]))
	rtest.OK(t, r.Process(ctx, records[1]))
	rtest.OK(t, r.Process(ctx, records[2]))
	rtest.OK(t, r.Process(ctx, records[2]))

	received, duplicate, finished := r.Stats()
	rtest.Equals(t, 3, received)
	rtest.Equals(t, 2, duplicate)
	rtest.Equals(t, 1, finished)

	written, err := os.ReadFile(filepath.Join(outDir, "dup.dat"))
	rtest.OK(t, err)
	rtest.Assert(t, bytes.Equal(data, written), "reassembled file differs from the original data")
}

func TestReceiverDropsCorruptedChunks(t *testing.T) {
	outDir := rtest.TempDir(t)
	r, err := NewReceiver(outDir, nil)
	rtest.OK(t, err)

	data := rtest.Random(72, 2*testChunkSize)
	records := recordsFor(t, "", "corrupt.dat", data)

	// flip one payload byte somewhere inside the msgpack buffer
	broken := append([]byte(nil), records[0]...)
	broken[len(broken)-1] ^= 0xff

	ctx := context.Background()
	rtest.OK(t, r.Process(ctx, broken))

	received, _, finished := r.Stats()
	rtest.Equals(t, 0, received)
	rtest.Equals(t, 0, finished)

	// the intact records still complete the file
	rtest.OK(t, r.Process(ctx, records[0]))
	rtest.OK(t, r.Process(ctx, records[1]))

	_, _, finished = r.Stats()
	rtest.Equals(t, 1, finished)
}

func TestReceiverDropsGarbage(t *testing.T) {
	r, err := NewReceiver(rtest.TempDir(t), nil)
	rtest.OK(t, err)

	rtest.OK(t, r.Process(context.Background(), []byte("not a record at all")))

	received, _, _ := r.Stats()
	rtest.Equals(t, 0, received)
}
