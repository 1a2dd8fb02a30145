// Package iosys abstracts the filesystem operations the synchronization
// engine needs so that every component can be exercised against an
// in-memory filesystem in tests.
package iosys

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FileSystem abstracts all filesystem operations needed for mirroring.
// This allows for testing and alternative storage backends.
type FileSystem interface {
	// ReadFile reads the entire file at the given path.
	ReadFile(path string) ([]byte, error)

	// WriteFile writes data to the named file, creating it if necessary.
	WriteFile(path string, data []byte, perm os.FileMode) error

	// Stat returns file info for the given path.
	Stat(path string) (os.FileInfo, error)

	// Lstat returns file info for the given path without following symlinks.
	Lstat(path string) (os.FileInfo, error)

	// Open opens a file for reading.
	Open(path string) (io.ReadCloser, error)

	// Create creates or truncates a file for writing.
	Create(path string) (io.WriteCloser, error)

	// MkdirAll creates a directory and all necessary parents.
	MkdirAll(path string, perm os.FileMode) error

	// Remove deletes a file or empty directory. Removing a path that does
	// not exist is not an error.
	Remove(path string) error

	// Rename moves/renames a file or directory.
	Rename(oldPath, newPath string) error

	// Link creates a hard link.
	Link(oldPath, newPath string) error

	// Symlink creates newname as a symbolic link to oldname.
	Symlink(oldname, newname string) error

	// Readlink returns the destination of a symbolic link.
	Readlink(path string) (string, error)

	// WalkDir walks the file tree rooted at root, calling fn for each file
	// or directory, in the manner of io/fs.WalkDir.
	WalkDir(root string, fn fs.WalkDirFunc) error
}

// OsFileSystem is a FileSystem implementation that uses the real OS filesystem.
type OsFileSystem struct{}

// NewOsFileSystem returns the default, disk-backed FileSystem.
func NewOsFileSystem() FileSystem {
	return &OsFileSystem{}
}

func (OsFileSystem) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

func (OsFileSystem) WriteFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}

func (OsFileSystem) Stat(path string) (os.FileInfo, error)  { return os.Stat(path) }
func (OsFileSystem) Lstat(path string) (os.FileInfo, error) { return os.Lstat(path) }

func (OsFileSystem) Open(path string) (io.ReadCloser, error) { return os.Open(path) }

func (OsFileSystem) Create(path string) (io.WriteCloser, error) { return os.Create(path) }

func (OsFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (OsFileSystem) Remove(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (OsFileSystem) Rename(oldPath, newPath string) error { return os.Rename(oldPath, newPath) }

func (OsFileSystem) Link(oldPath, newPath string) error { return os.Link(oldPath, newPath) }

func (OsFileSystem) Symlink(oldname, newname string) error { return os.Symlink(oldname, newname) }

func (OsFileSystem) Readlink(path string) (string, error) { return os.Readlink(path) }

func (OsFileSystem) WalkDir(root string, walkFn fs.WalkDirFunc) error {
	return filepath.WalkDir(root, walkFn)
}
