package uploader

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/openmsi/msistream/internal/datafile"
	"github.com/openmsi/msistream/internal/debug"
)

const (
	// how often and how long to pause when the readability probe hits a
	// sharing or permission error before giving up until the next scan
	probeRetries = 3
	probePause   = 100 * time.Millisecond
)

// Scanner performs the periodic walk of the watched directory and registers
// files that pass the admit filter and the readability probe. A file is only
// admitted once its size is stable across two consecutive scans, so a writer
// that is still appending does not get chunked halfway.
type Scanner struct {
	root     string
	admit    *regexp.Regexp
	registry *datafile.Registry

	// candidates seen on earlier scans but not admitted yet
	pending map[string]*candidate
}

// candidate remembers the size a not-yet-admitted file had on the previous
// scan, and whether uploading was enabled when it first appeared. The flag
// from the first sighting wins, so files present before startup stay
// excluded even when they only become stable later.
type candidate struct {
	size     int64
	toUpload bool
}

// NewScanner creates a scanner over root. Only regular files whose basename
// matches admit are considered.
func NewScanner(root string, admit *regexp.Regexp, registry *datafile.Registry) *Scanner {
	return &Scanner{
		root:     root,
		admit:    admit,
		registry: registry,
		pending:  make(map[string]*candidate),
	}
}

// Scan walks the watched tree once and registers every admissible file. A
// file is registered with the upload flag of the scan that first saw it.
// Returns the number of files added for upload; files registered with
// uploading disabled are not counted. A file or directory disappearing
// mid-walk ends the scan cleanly; the next tick simply scans again.
func (s *Scanner) Scan(toUpload bool) int {
	added := 0

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				debug.Log("%v vanished mid-scan, aborting this scan", path)
				return filepath.SkipAll
			}
			return err
		}

		if !d.Type().IsRegular() {
			return nil
		}
		if s.registry.Contains(path) {
			return nil
		}
		if !s.admit.MatchString(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}

		// require a stable size across two consecutive scans before
		// admitting, a writer may still be appending; empty files are
		// never admitted
		size := info.Size()
		cand, seen := s.pending[path]
		if !seen {
			s.pending[path] = &candidate{size: size, toUpload: toUpload}
			return nil
		}
		if cand.size != size || size == 0 {
			cand.size = size
			return nil
		}

		if !s.probe(path) {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		subdir := filepath.ToSlash(filepath.Dir(rel))
		if subdir == "." {
			subdir = ""
		}

		if s.registry.Add(datafile.NewFile(path, subdir, d.Name(), cand.toUpload)) {
			debug.Log("registered %v (upload=%v)", path, cand.toUpload)
			delete(s.pending, path)
			if cand.toUpload {
				added++
			}
		}
		return nil
	})
	if err != nil {
		debug.Log("scan of %v failed: %v", s.root, err)
	}

	return added
}

// probe attempts to open the file for shared reading. A sharing or
// permission error is retried a bounded number of times with a short pause;
// after that the file is left for the next scan.
func (s *Scanner) probe(path string) bool {
	for i := 0; ; i++ {
		f, err := os.Open(path)
		if err == nil {
			_ = f.Close()
			return true
		}
		if !os.IsPermission(err) {
			debug.Log("probe of %v failed: %v", path, err)
			return false
		}
		if i >= probeRetries {
			debug.Log("%v still locked after %d probes, retrying next scan", path, i+1)
			return false
		}
		time.Sleep(probePause)
	}
}
