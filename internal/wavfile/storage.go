package wavfile

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// File is the handle the writer needs from local storage.
type File interface {
	io.Writer
	io.Seeker
	io.Closer
}

// Storage is a hierarchical byte store. Mounting and formatting it are the
// caller's concern.
type Storage interface {
	// Create truncates or creates the named file for writing.
	Create(name string) (File, error)
	// Open opens the named file for reading.
	Open(name string) (fs.File, error)
	Stat(name string) (fs.FileInfo, error)
	Remove(name string) error
}

// DirStorage stores files on the OS file system. Relative names are
// resolved under Root; absolute names are used as given.
type DirStorage struct {
	Root string
}

func (d DirStorage) path(name string) string {
	if filepath.IsAbs(name) || d.Root == "" {
		return name
	}
	return filepath.Join(d.Root, name)
}

func (d DirStorage) Create(name string) (File, error) {
	p := d.path(name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, err
	}
	return os.Create(p)
}

func (d DirStorage) Open(name string) (fs.File, error) {
	return os.Open(d.path(name))
}

func (d DirStorage) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(d.path(name))
}

func (d DirStorage) Remove(name string) error {
	return os.Remove(d.path(name))
}
