package iosys

import (
	"bytes"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemFileSystem is an in-memory implementation of FileSystem for testing.
type MemFileSystem struct {
	mu    sync.RWMutex
	files map[string]*memFile
}

// memFile represents a file, directory, or symlink in memory.
type memFile struct {
	data     []byte
	mode     os.FileMode
	modTime  time.Time
	isDir    bool
	linkDest string // non-empty for symlinks
}

// NewMemFileSystem returns an empty in-memory FileSystem.
func NewMemFileSystem() FileSystem {
	return &MemFileSystem{
		files: make(map[string]*memFile),
	}
}

func normalizePath(path string) string {
	path = filepath.ToSlash(filepath.Clean(path))
	if path == "." {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

func (mfs *MemFileSystem) ReadFile(path string) ([]byte, error) {
	mfs.mu.RLock()
	defer mfs.mu.RUnlock()

	path = normalizePath(path)
	file, exists := mfs.files[path]
	if !exists {
		return nil, &os.PathError{Op: "read", Path: path, Err: os.ErrNotExist}
	}
	if file.isDir {
		return nil, &os.PathError{Op: "read", Path: path, Err: fs.ErrInvalid}
	}

	data := make([]byte, len(file.data))
	copy(data, file.data)
	return data, nil
}

func (mfs *MemFileSystem) WriteFile(path string, data []byte, perm os.FileMode) error {
	w, err := mfs.Create(path)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	return w.Close()
}

func (mfs *MemFileSystem) Stat(path string) (os.FileInfo, error) {
	mfs.mu.RLock()
	defer mfs.mu.RUnlock()

	p := normalizePath(path)
	file, exists := mfs.files[p]
	if !exists {
		return nil, &os.PathError{Op: "stat", Path: path, Err: os.ErrNotExist}
	}
	for file.linkDest != "" {
		target := normalizePath(file.linkDest)
		file, exists = mfs.files[target]
		if !exists {
			return nil, &os.PathError{Op: "stat", Path: path, Err: os.ErrNotExist}
		}
	}

	return &memFileInfo{
		name:    filepath.Base(p),
		size:    int64(len(file.data)),
		mode:    file.mode,
		modTime: file.modTime,
		isDir:   file.isDir,
	}, nil
}

func (mfs *MemFileSystem) Lstat(path string) (os.FileInfo, error) {
	mfs.mu.RLock()
	defer mfs.mu.RUnlock()

	p := normalizePath(path)
	file, exists := mfs.files[p]
	if !exists {
		return nil, &os.PathError{Op: "lstat", Path: path, Err: os.ErrNotExist}
	}

	mode := file.mode
	if file.linkDest != "" {
		mode |= os.ModeSymlink
	}
	return &memFileInfo{
		name:    filepath.Base(p),
		size:    int64(len(file.data)),
		mode:    mode,
		modTime: file.modTime,
		isDir:   file.isDir,
	}, nil
}

func (mfs *MemFileSystem) Open(path string) (io.ReadCloser, error) {
	data, err := mfs.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (mfs *MemFileSystem) Create(path string) (io.WriteCloser, error) {
	path = normalizePath(path)

	dir := filepath.ToSlash(filepath.Dir(path))
	if dir != "/" && dir != "." {
		mfs.mu.Lock()
		if _, exists := mfs.files[dir]; !exists {
			mfs.files[dir] = &memFile{mode: 0o755 | os.ModeDir, modTime: time.Now(), isDir: true}
		}
		mfs.mu.Unlock()
	}

	return &memFileWriter{
		fs:   mfs,
		path: path,
		buf:  new(bytes.Buffer),
	}, nil
}

func (mfs *MemFileSystem) MkdirAll(path string, perm os.FileMode) error {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()

	path = normalizePath(path)
	if path == "/" {
		return nil
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	current := ""
	for _, part := range parts {
		current = current + "/" + part
		if _, exists := mfs.files[current]; !exists {
			mfs.files[current] = &memFile{
				mode:    perm | os.ModeDir,
				modTime: time.Now(),
				isDir:   true,
			}
		}
	}

	return nil
}

func (mfs *MemFileSystem) Remove(path string) error {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()

	path = normalizePath(path)
	delete(mfs.files, path)
	return nil
}

func (mfs *MemFileSystem) Rename(oldPath, newPath string) error {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()

	oldPath = normalizePath(oldPath)
	newPath = normalizePath(newPath)

	file, exists := mfs.files[oldPath]
	if !exists {
		return &os.PathError{Op: "rename", Path: oldPath, Err: os.ErrNotExist}
	}

	mfs.files[newPath] = file
	delete(mfs.files, oldPath)

	return nil
}

func (mfs *MemFileSystem) Link(oldPath, newPath string) error {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()

	oldPath = normalizePath(oldPath)
	newPath = normalizePath(newPath)

	file, exists := mfs.files[oldPath]
	if !exists {
		return &os.PathError{Op: "link", Path: oldPath, Err: os.ErrNotExist}
	}
	if file.isDir {
		return &os.PathError{Op: "link", Path: oldPath, Err: fs.ErrInvalid}
	}

	mfs.files[newPath] = &memFile{
		data:    file.data,
		mode:    file.mode,
		modTime: file.modTime,
	}

	return nil
}

func (mfs *MemFileSystem) Symlink(oldname, newname string) error {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()

	newname = normalizePath(newname)
	mfs.files[newname] = &memFile{
		mode:     0o777 | os.ModeSymlink,
		modTime:  time.Now(),
		linkDest: oldname,
	}
	return nil
}

func (mfs *MemFileSystem) Readlink(path string) (string, error) {
	mfs.mu.RLock()
	defer mfs.mu.RUnlock()

	p := normalizePath(path)
	file, exists := mfs.files[p]
	if !exists || file.linkDest == "" {
		return "", &os.PathError{Op: "readlink", Path: path, Err: os.ErrNotExist}
	}
	return file.linkDest, nil
}

// WalkDir walks the in-memory tree rooted at root in lexical order, mimicking
// io/fs.WalkDir closely enough for the trash remover and mirror runner.
func (mfs *MemFileSystem) WalkDir(root string, walkFn fs.WalkDirFunc) error {
	root = normalizePath(root)

	mfs.mu.RLock()
	var paths []string
	for p := range mfs.files {
		if p == root || strings.HasPrefix(p, root+"/") {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	mfs.mu.RUnlock()

	for _, p := range paths {
		mfs.mu.RLock()
		file := mfs.files[p]
		mfs.mu.RUnlock()
		if file == nil {
			continue
		}
		info := &memFileInfo{
			name:    filepath.Base(p),
			size:    int64(len(file.data)),
			mode:    file.mode,
			modTime: file.modTime,
			isDir:   file.isDir,
		}
		if err := walkFn(p, fs.FileInfoToDirEntry(info), nil); err != nil {
			if err == fs.SkipDir {
				continue
			}
			return err
		}
	}
	return nil
}

// memFileWriter is an io.WriteCloser for writing to an in-memory file.
type memFileWriter struct {
	fs   *MemFileSystem
	path string
	buf  *bytes.Buffer
}

func (w *memFileWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *memFileWriter) Close() error {
	w.fs.mu.Lock()
	defer w.fs.mu.Unlock()

	w.fs.files[w.path] = &memFile{
		data:    w.buf.Bytes(),
		mode:    0o644,
		modTime: time.Now(),
	}

	return nil
}

// memFileInfo implements os.FileInfo for in-memory files.
type memFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
	isDir   bool
}

func (fi *memFileInfo) Name() string       { return fi.name }
func (fi *memFileInfo) Size() int64        { return fi.size }
func (fi *memFileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *memFileInfo) ModTime() time.Time { return fi.modTime }
func (fi *memFileInfo) IsDir() bool        { return fi.isDir }
func (fi *memFileInfo) Sys() interface{}   { return nil }
