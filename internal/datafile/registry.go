package datafile

import "sync"

// Registry is the insertion-ordered set of files recognized during a run,
// keyed by absolute path. Entries are added by the scanner and never removed;
// the control loop and delivery callbacks mutate the files themselves.
type Registry struct {
	mu     sync.Mutex
	byPath map[string]*File
	order  []*File
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byPath: make(map[string]*File)}
}

// Add inserts a file unless its path is already known. Reports whether the
// file was inserted.
func (r *Registry) Add(f *File) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byPath[f.Path()]; ok {
		return false
	}
	r.byPath[f.Path()] = f
	r.order = append(r.order, f)
	return true
}

// Contains reports whether path is already registered.
func (r *Registry) Contains(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byPath[path]
	return ok
}

// Files returns a snapshot of all files in insertion order.
func (r *Registry) Files() []*File {
	r.mu.Lock()
	defer r.mu.Unlock()
	files := make([]*File, len(r.order))
	copy(files, r.order)
	return files
}

// Len returns the number of registered files.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// NextUploadable returns the first file in insertion order that has chunks
// to emit: one that is in progress, or hashed and waiting for its first
// chunk. Files that still need hashing are deliberately not eligible, they
// are picked up by NextRegistered once nothing is ready to emit. Returns nil
// when no file is ready.
func (r *Registry) NextUploadable() *File {
	for _, f := range r.Files() {
		if !f.ToUpload() {
			continue
		}
		switch f.State() {
		case Hashed, InProgress:
			return f
		}
	}
	return nil
}

// NextRegistered returns the first file in insertion order that still needs
// to be hashed, or nil.
func (r *Registry) NextRegistered() *File {
	for _, f := range r.Files() {
		if f.ToUpload() && f.State() == Registered {
			return f
		}
	}
	return nil
}

// InProgress returns all files whose upload has started but is not fully
// enqueued yet, in insertion order.
func (r *Registry) InProgress() []*File {
	var files []*File
	for _, f := range r.Files() {
		if f.State() == InProgress {
			files = append(files, f)
		}
	}
	return files
}
