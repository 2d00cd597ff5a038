package datafile

import (
	"bytes"
	"crypto/sha256"
	"os"
	"testing"

	rtest "github.com/openmsi/msistream/internal/test"
)

func chunksOf(t testing.TB, f *File) []*Chunk {
	t.Helper()
	q := NewQueue(int(f.ChunkCount()))
	for f.State() == Hashed || f.State() == InProgress {
		f.EmitChunks(q, int(f.ChunkCount()))
	}

	var chunks []*Chunk
	for i := int64(0); i < f.ChunkCount(); i++ {
		c, ok := q.Take()
		rtest.Assert(t, ok, "expected a chunk")
		chunks = append(chunks, c)
	}
	return chunks
}

func TestReadData(t *testing.T) {
	const chunkSize = 16

	data := rtest.Random(11, 100)
	f := createTestFile(t, data)
	rtest.OK(t, f.Prepare(chunkSize))

	var reassembled []byte
	for _, c := range chunksOf(t, f) {
		buf, err := c.ReadData()
		rtest.OK(t, err)
		rtest.Equals(t, data[c.Offset:c.Offset+c.Length], buf)

		sum := sha256.Sum256(buf)
		rtest.Equals(t, sum[:], c.Hash)

		reassembled = append(reassembled, buf...)
	}

	rtest.Assert(t, bytes.Equal(data, reassembled), "reassembled bytes differ from the file")
}

func TestSerializeRoundTrip(t *testing.T) {
	const chunkSize = 16

	data := rtest.Random(12, 3*chunkSize+5)
	f := createTestFile(t, data)
	rtest.OK(t, f.Prepare(chunkSize))

	for _, c := range chunksOf(t, f) {
		buf, err := c.Serialize()
		rtest.OK(t, err)

		// serialization is deterministic
		buf2, err := c.Serialize()
		rtest.OK(t, err)
		rtest.Assert(t, bytes.Equal(buf, buf2), "two serializations of the same chunk differ")

		rec, err := UnmarshalRecord(buf)
		rtest.OK(t, err)
		rtest.Equals(t, f.Fingerprint(), rec.Fingerprint)
		rtest.Equals(t, f.Filename(), rec.Filename)
		rtest.Equals(t, f.FileHash(), rec.FileHash)
		rtest.Equals(t, c.Index, rec.ChunkIndex)
		rtest.Equals(t, f.ChunkCount(), rec.ChunkCount)
		rtest.Equals(t, c.Offset, rec.Offset)
		rtest.Equals(t, c.Length, rec.Length)
		rtest.Equals(t, c.Hash, rec.ChunkHash)
		rtest.Equals(t, data[c.Offset:c.Offset+c.Length], rec.Payload)
	}
}

func TestReadDataModifiedFile(t *testing.T) {
	const chunkSize = 16

	data := rtest.Random(13, 4*chunkSize)
	f := createTestFile(t, data)
	rtest.OK(t, f.Prepare(chunkSize))
	chunks := chunksOf(t, f)

	// overwrite with different bytes of the same length
	data[chunkSize] ^= 0xff
	rtest.OK(t, os.WriteFile(f.Path(), data, 0600))

	_, err := chunks[1].ReadData()
	rtest.Equals(t, ErrChunkDataCorrupted, err)

	// untouched chunks still read back and verify
	_, err = chunks[0].ReadData()
	rtest.OK(t, err)
}

func TestReadDataTruncatedFile(t *testing.T) {
	const chunkSize = 16

	data := rtest.Random(14, 4*chunkSize)
	f := createTestFile(t, data)
	rtest.OK(t, f.Prepare(chunkSize))
	chunks := chunksOf(t, f)

	rtest.OK(t, os.WriteFile(f.Path(), data[:chunkSize+3], 0600))

	_, err := chunks[3].ReadData()
	rtest.Equals(t, ErrChunkDataCorrupted, err)
}

func TestReadDataVanishedFile(t *testing.T) {
	const chunkSize = 16

	f := createTestFile(t, rtest.Random(15, 2*chunkSize))
	rtest.OK(t, f.Prepare(chunkSize))
	chunks := chunksOf(t, f)

	rtest.OK(t, os.Remove(f.Path()))

	_, err := chunks[0].ReadData()
	rtest.Equals(t, ErrFileDisappeared, err)
}

func TestChunkKey(t *testing.T) {
	f := createTestFile(t, rtest.Random(16, 64))
	rtest.OK(t, f.Prepare(16))

	for _, c := range chunksOf(t, f) {
		rtest.Equals(t, []byte(f.Fingerprint()), c.Key())
	}
}
