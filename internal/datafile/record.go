package datafile

import (
	"github.com/openmsi/msistream/internal/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Record is the on-wire representation of one chunk. It is encoded as a
// msgpack array with a fixed field order so that identical fields always
// produce identical bytes, which the consumer side relies on to deduplicate
// on (Fingerprint, ChunkIndex).
type Record struct {
	_msgpack struct{} `msgpack:",as_array"`

	Fingerprint string
	Subdir      string
	Filename    string
	FileHash    []byte
	ChunkIndex  int64
	ChunkCount  int64
	Offset      int64
	Length      int64
	ChunkHash   []byte
	Payload     []byte
}

// Marshal encodes the record.
func (r *Record) Marshal() ([]byte, error) {
	buf, err := msgpack.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "msgpack.Marshal")
	}
	return buf, nil
}

// UnmarshalRecord decodes a chunk record received from the bus.
func UnmarshalRecord(buf []byte) (*Record, error) {
	var r Record
	if err := msgpack.Unmarshal(buf, &r); err != nil {
		return nil, errors.Wrap(err, "msgpack.Unmarshal")
	}

	if r.ChunkIndex < 0 || r.ChunkCount <= 0 || r.ChunkIndex >= r.ChunkCount {
		return nil, errors.Errorf("invalid chunk record: index %d of %d", r.ChunkIndex, r.ChunkCount)
	}
	if int64(len(r.Payload)) != r.Length {
		return nil, errors.Errorf("invalid chunk record: %d payload bytes, length field says %d", len(r.Payload), r.Length)
	}

	return &r, nil
}
