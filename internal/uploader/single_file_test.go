package uploader

import (
	"bytes"
	"context"
	"testing"

	"github.com/openmsi/msistream/internal/bus/mock"
	"github.com/openmsi/msistream/internal/datafile"
	rtest "github.com/openmsi/msistream/internal/test"
)

func TestUploadSingleFile(t *testing.T) {
	dir := rtest.TempDir(t)
	producer := &mock.Producer{}

	// two full chunks plus one trailing byte
	data := rtest.Random(60, 2*testChunkSize+1)
	path := writeFile(t, dir, "single.dat", data)

	f, err := UploadSingleFile(context.Background(), producer, path, testChunkSize, 2, 8)
	rtest.OK(t, err)

	rtest.Equals(t, datafile.FullyAcked, f.State())
	rtest.Equals(t, int64(3), f.ChunkCount())
	rtest.Equals(t, int64(3), f.AckedChunks())
	rtest.Assert(t, producer.Closed(), "producer was not closed")

	rtest.Assert(t, bytes.Equal(data, reassemble(t, producer, "single.dat")),
		"reassembled bytes differ from the original file")

	// every record carries the full chunk count
	for _, msg := range producer.Messages() {
		rec, err := datafile.UnmarshalRecord(msg.Value)
		rtest.OK(t, err)
		rtest.Equals(t, int64(3), rec.ChunkCount)
	}
}

func TestUploadSingleFileExactMultiple(t *testing.T) {
	dir := rtest.TempDir(t)
	producer := &mock.Producer{}

	// an exact multiple of the chunk size yields no empty trailing chunk
	data := rtest.Random(61, 4*testChunkSize)
	path := writeFile(t, dir, "exact.dat", data)

	f, err := UploadSingleFile(context.Background(), producer, path, testChunkSize, 2, 8)
	rtest.OK(t, err)
	rtest.Equals(t, int64(4), f.ChunkCount())

	for _, msg := range producer.Messages() {
		rec, err := datafile.UnmarshalRecord(msg.Value)
		rtest.OK(t, err)
		rtest.Assert(t, rec.Length > 0, "empty chunk %d produced", rec.ChunkIndex)
	}
}

func TestUploadSingleFileMissing(t *testing.T) {
	producer := &mock.Producer{}

	_, err := UploadSingleFile(context.Background(), producer, "/does/not/exist.dat", testChunkSize, 2, 8)
	rtest.Assert(t, err != nil, "expected an error for a missing file")
}

func TestUploadSingleFileBadParameters(t *testing.T) {
	producer := &mock.Producer{}

	_, err := UploadSingleFile(context.Background(), producer, "whatever.dat", 0, 2, 8)
	rtest.Assert(t, err != nil, "expected an error for chunk size 0")
}
