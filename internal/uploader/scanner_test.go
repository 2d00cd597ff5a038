package uploader

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/openmsi/msistream/internal/datafile"
	rtest "github.com/openmsi/msistream/internal/test"
)

func newTestScanner(t testing.TB, pattern string) (*Scanner, *datafile.Registry, string) {
	t.Helper()
	tempdir := rtest.TempDir(t)
	registry := datafile.NewRegistry()
	return NewScanner(tempdir, regexp.MustCompile(pattern), registry), registry, tempdir
}

func writeFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	rtest.OK(t, os.MkdirAll(filepath.Dir(path), 0700))
	rtest.OK(t, os.WriteFile(path, data, 0600))
	return path
}

func TestScanAdmitsAfterStableSize(t *testing.T) {
	s, registry, dir := newTestScanner(t, `\.dat$`)
	path := writeFile(t, dir, "run.dat", rtest.Random(1, 100))

	// the first sighting only records the size
	rtest.Equals(t, 0, s.Scan(true))
	rtest.Assert(t, !registry.Contains(path), "file admitted on first sighting")

	// unchanged size on the second scan admits the file
	rtest.Equals(t, 1, s.Scan(true))
	rtest.Assert(t, registry.Contains(path), "file not admitted on second sighting")

	// a registered file is not picked up again
	rtest.Equals(t, 0, s.Scan(true))
	rtest.Equals(t, 1, registry.Len())
}

func TestScanGrowingFile(t *testing.T) {
	s, registry, dir := newTestScanner(t, `\.dat$`)
	path := writeFile(t, dir, "grow.dat", rtest.Random(2, 50))

	rtest.Equals(t, 0, s.Scan(true))

	// still growing, not admitted
	writeFile(t, dir, "grow.dat", rtest.Random(2, 80))
	rtest.Equals(t, 0, s.Scan(true))
	rtest.Assert(t, !registry.Contains(path), "growing file was admitted")

	// size unchanged since the previous scan admits the file
	rtest.Equals(t, 1, s.Scan(true))
	rtest.Equals(t, 0, s.Scan(true))
	rtest.Assert(t, registry.Contains(path), "settled file was not admitted")
}

func TestScanEmptyFile(t *testing.T) {
	s, registry, dir := newTestScanner(t, `\.dat$`)
	path := writeFile(t, dir, "empty.dat", nil)

	for i := 0; i < 3; i++ {
		rtest.Equals(t, 0, s.Scan(true))
	}
	rtest.Assert(t, !registry.Contains(path), "empty file was admitted")
}

func TestScanAdmitPattern(t *testing.T) {
	s, registry, dir := newTestScanner(t, `\.dat$`)
	writeFile(t, dir, "keep.dat", rtest.Random(3, 10))
	skipped := writeFile(t, dir, "skip.tmp", rtest.Random(4, 10))

	s.Scan(true)
	rtest.Equals(t, 1, s.Scan(true))
	rtest.Assert(t, !registry.Contains(skipped), "file not matching the pattern was admitted")
}

func TestScanSubdir(t *testing.T) {
	s, registry, dir := newTestScanner(t, `\.dat$`)
	path := writeFile(t, dir, filepath.Join("run-4", "scope", "trace.dat"), rtest.Random(5, 10))

	s.Scan(true)
	rtest.Equals(t, 1, s.Scan(true))

	var file *datafile.File
	for _, f := range registry.Files() {
		if f.Path() == path {
			file = f
		}
	}
	rtest.Assert(t, file != nil, "file below subdirectory not registered")
	rtest.Equals(t, "run-4/scope", file.Subdir())
	rtest.Equals(t, "trace.dat", file.Filename())
}

func TestScanPreexistingStaysExcluded(t *testing.T) {
	s, registry, dir := newTestScanner(t, `\.dat$`)
	path := writeFile(t, dir, "old.dat", rtest.Random(6, 10))

	// startup scan with uploads disabled
	rtest.Equals(t, 0, s.Scan(false))

	// later scans run with uploads enabled, but the file was first seen
	// before startup finished and must stay excluded
	rtest.Equals(t, 0, s.Scan(true))
	rtest.Assert(t, registry.Contains(path), "pre-existing file not recorded")

	for _, f := range registry.Files() {
		if f.Path() == path {
			rtest.Assert(t, !f.ToUpload(), "pre-existing file was marked for upload")
		}
	}
}

func TestScanVanishedRoot(t *testing.T) {
	s, _, dir := newTestScanner(t, `\.dat$`)
	rtest.OK(t, os.RemoveAll(dir))

	// must not panic or loop, just end the scan
	rtest.Equals(t, 0, s.Scan(true))
}
