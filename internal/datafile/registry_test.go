package datafile

import (
	"testing"

	rtest "github.com/openmsi/msistream/internal/test"
)

func TestRegistryOrder(t *testing.T) {
	r := NewRegistry()

	a := NewFile("/data/a.dat", "", "a.dat", true)
	b := NewFile("/data/b.dat", "", "b.dat", true)
	c := NewFile("/data/c.dat", "", "c.dat", true)

	rtest.Assert(t, r.Add(b), "first insert failed")
	rtest.Assert(t, r.Add(a), "second insert failed")
	rtest.Assert(t, r.Add(c), "third insert failed")
	rtest.Assert(t, !r.Add(a), "duplicate insert succeeded")
	rtest.Equals(t, 3, r.Len())

	files := r.Files()
	rtest.Equals(t, []*File{b, a, c}, files)

	rtest.Assert(t, r.Contains("/data/a.dat"), "registered path not found")
	rtest.Assert(t, !r.Contains("/data/d.dat"), "unknown path found")
}

func TestRegistryNextUploadable(t *testing.T) {
	r := NewRegistry()

	excluded := NewFile("/data/old.dat", "", "old.dat", false)
	unhashed := createTestFile(t, rtest.Random(80, 64))
	ready := createTestFile(t, rtest.Random(81, 64))
	rtest.OK(t, ready.Prepare(16))

	r.Add(excluded)
	r.Add(unhashed)
	r.Add(ready)

	// files recorded with upload disabled are never scheduled, and a file
	// that still needs hashing does not shadow one that is ready to emit,
	// even though it was registered earlier
	rtest.Equals(t, ready, r.NextUploadable())
	rtest.Equals(t, unhashed, r.NextRegistered())

	// a failed file is skipped
	ready.fail(ErrFileDisappeared)
	if f := r.NextUploadable(); f != nil {
		t.Fatalf("expected no uploadable file, got %v", f.Path())
	}

	// once hashed, the remaining file becomes eligible for emission
	rtest.OK(t, unhashed.Prepare(16))
	rtest.Equals(t, unhashed, r.NextUploadable())
	if f := r.NextRegistered(); f != nil {
		t.Fatalf("expected no registered file, got %v", f.Path())
	}
}
