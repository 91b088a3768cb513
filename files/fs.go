// Package files is the filesystem layer behind static serving, the file
// manager and uploads.
package files

import (
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Sink receives the bytes of a file being written
type Sink interface {
	io.Writer
	io.Closer
}

// FS is a directory tree addressed by slash-separated names relative to its
// root. Missing files are reported with errors satisfying
// errors.Is(err, fs.ErrNotExist).
type FS interface {
	// Open opens name for reading and returns its size.
	Open(name string) (io.ReadCloser, int64, error)

	// Create creates name for writing. It fails if name already exists.
	Create(name string) (Sink, error)

	// Publish makes the finished file tmp visible as name. It fails with
	// fs.ErrExist when name is taken; tmp is left in place in that case.
	Publish(tmp, name string) error

	// Remove deletes name.
	Remove(name string) error

	// List returns the visible (non dot) file names in the root, sorted.
	List() ([]string, error)
}

// Backend selects how file contents are written
type Backend string

const (
	BackendStd   Backend = "std"
	BackendUring Backend = "uring"
)

// Dir is an FS rooted at a directory on the local disk
type Dir struct {
	root    string
	backend Backend
}

// NewDir creates the root directory if needed and returns an FS for it
func NewDir(root string, backend Backend) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create directory %s", root)
	}
	if backend == "" {
		backend = BackendStd
	}
	return &Dir{root: root, backend: backend}, nil
}

// Root returns the directory this FS is rooted at
func (d *Dir) Root() string {
	return d.root
}

func (d *Dir) path(name string) string {
	return filepath.Join(d.root, filepath.FromSlash(name))
}

func (d *Dir) Open(name string) (io.ReadCloser, int64, error) {
	f, err := os.Open(d.path(name))
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return f, info.Size(), nil
}

func (d *Dir) Create(name string) (Sink, error) {
	p := d.path(name)
	if d.backend == BackendUring {
		sink, err := NewUringSink(p)
		if err != nil {
			return nil, err
		}
		return sink, nil
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (d *Dir) Publish(tmp, name string) error {
	// link(2) refuses to replace an existing name, unlike rename(2).
	if err := os.Link(d.path(tmp), d.path(name)); err != nil {
		return err
	}
	return os.Remove(d.path(tmp))
}

func (d *Dir) Remove(name string) error {
	return os.Remove(d.path(name))
}

func (d *Dir) List() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, errors.Wrapf(err, "read directory %s", d.root)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") || e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// CleanPath turns a request path into a name relative to a root. Parent
// references are collapsed against the root, so the result never escapes
// it. ok is false for the root itself and for any dot-prefixed segment.
func CleanPath(urlPath string) (name string, ok bool) {
	cleaned := path.Clean("/" + urlPath)
	name = strings.TrimPrefix(cleaned, "/")
	if name == "" {
		return "", false
	}
	for _, seg := range strings.Split(name, "/") {
		if strings.HasPrefix(seg, ".") {
			return "", false
		}
	}
	return name, true
}

// ValidName reports whether name can address a single visible file in a
// root: not empty, not dot-prefixed, no separators and no parent references.
// Dot-prefixed names are reserved for uploads in progress.
func ValidName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.Contains(name, "..") && !strings.ContainsAny(name, `/\`)
}
