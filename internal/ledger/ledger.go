// Package ledger tracks which paths under the mirror root are still
// referenced by the upstream archive, the write-phase counterpart to
// the trash remover's read-phase diff. It generalizes the teacher's
// mutex-guarded validPackages map into a small interface with two
// implementations: an in-memory set for the common case, and a
// file-backed external-sort variant for hosts that cannot hold every
// relative path in memory at once.
package ledger

import (
	"bufio"
	"os"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Ledger records every path the current synchronization pass touched,
// so the trash remover can diff it against what is actually on disk.
type Ledger interface {
	// Record marks path as still referenced upstream. Safe for
	// concurrent use by the mirror runner's worker pool.
	Record(path string)

	// Contains reports whether path was recorded.
	Contains(path string) bool

	// Paths invokes fn once per recorded path, in unspecified order
	// for MemLedger and ascending lexical order for FileLedger.
	// Returning a non-nil error from fn stops iteration and is
	// propagated to the caller.
	Paths(fn func(path string) error) error

	// Close releases any resources (temp files) the ledger holds.
	Close() error
}

// MemLedger is the default ledger: an in-memory set guarded by a
// mutex, directly generalizing the teacher's validPackages map.
type MemLedger struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

// NewMemLedger returns an empty in-memory ledger.
func NewMemLedger() *MemLedger {
	return &MemLedger{paths: make(map[string]struct{})}
}

func (l *MemLedger) Record(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paths[path] = struct{}{}
}

func (l *MemLedger) Contains(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.paths[path]
	return ok
}

func (l *MemLedger) Paths(fn func(path string) error) error {
	l.mu.Lock()
	paths := make([]string, 0, len(l.paths))
	for p := range l.paths {
		paths = append(paths, p)
	}
	l.mu.Unlock()

	for _, p := range paths {
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

func (l *MemLedger) Close() error { return nil }

// FileLedger appends recorded paths to a temp file rather than holding
// them in memory, for the explicitly-declared bounded-memory mode.
// Paths is only valid after Close has run the external sort, which
// dedupes and orders the ledger so the trash remover can merge it
// against a sorted disk listing in one linear pass.
type FileLedger struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	sorted string // path to the finalized, sorted, deduped file
	closed bool
}

// NewFileLedger creates a ledger backed by a temp file in dir (the OS
// default temp directory if dir is "").
func NewFileLedger(dir string) (*FileLedger, error) {
	f, err := os.CreateTemp(dir, "debmirror-ledger-*.txt")
	if err != nil {
		return nil, errors.Wrap(err, "ledger: create temp file")
	}
	return &FileLedger{f: f, w: bufio.NewWriter(f)}, nil
}

func (l *FileLedger) Record(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.w.WriteString(path)
	l.w.WriteByte('\n')
}

// Contains is not supported before Close finalizes the sorted file;
// FileLedger is intended to be written once, then read via Paths.
func (l *FileLedger) Contains(path string) bool {
	return false
}

func (l *FileLedger) Paths(fn func(path string) error) error {
	if l.sorted == "" {
		return errors.New("ledger: Paths called before Close finalized the sort")
	}
	f, err := os.Open(l.sorted)
	if err != nil {
		return errors.Wrap(err, "ledger: open sorted file")
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if err := fn(sc.Text()); err != nil {
			return err
		}
	}
	return sc.Err()
}

// Close flushes the write buffer, runs the external sort-and-dedupe
// (see ExternalSort), and removes the unsorted intermediate file.
func (l *FileLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	if err := l.w.Flush(); err != nil {
		return errors.Wrap(err, "ledger: flush")
	}
	unsortedPath := l.f.Name()
	if err := l.f.Close(); err != nil {
		return errors.Wrap(err, "ledger: close temp file")
	}

	sortedPath, err := ExternalSort(unsortedPath)
	if err != nil {
		return err
	}
	os.Remove(unsortedPath)
	l.sorted = sortedPath
	return nil
}

// ExternalSort reads the newline-delimited path list at unsortedPath in
// bounded-size chunks, sorts and writes each chunk to its own temp
// file, then k-way merges the chunks (deduping adjacent duplicates)
// into a single sorted output file, whose path is returned. This is the
// chunked-sort-and-merge algorithm for hosts where the full path set
// does not fit in memory at once.
func ExternalSort(unsortedPath string) (string, error) {
	const chunkLines = 100_000

	f, err := os.Open(unsortedPath)
	if err != nil {
		return "", errors.Wrap(err, "ledger: open for external sort")
	}
	defer f.Close()

	var chunkPaths []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var chunk []string
	flushChunk := func() error {
		if len(chunk) == 0 {
			return nil
		}
		sort.Strings(chunk)
		cf, err := os.CreateTemp("", "debmirror-ledger-chunk-*.txt")
		if err != nil {
			return errors.Wrap(err, "ledger: create chunk file")
		}
		defer cf.Close()
		w := bufio.NewWriter(cf)
		var prev string
		first := true
		for _, p := range chunk {
			if !first && p == prev {
				continue
			}
			w.WriteString(p)
			w.WriteByte('\n')
			prev = p
			first = false
		}
		if err := w.Flush(); err != nil {
			return errors.Wrap(err, "ledger: flush chunk file")
		}
		chunkPaths = append(chunkPaths, cf.Name())
		chunk = chunk[:0]
		return nil
	}

	for sc.Scan() {
		chunk = append(chunk, sc.Text())
		if len(chunk) >= chunkLines {
			if err := flushChunk(); err != nil {
				return "", err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return "", errors.Wrap(err, "ledger: scan unsorted file")
	}
	if err := flushChunk(); err != nil {
		return "", err
	}
	defer func() {
		for _, cp := range chunkPaths {
			os.Remove(cp)
		}
	}()

	return mergeChunks(chunkPaths)
}

// mergeSource is one open chunk file being consumed during the k-way merge.
type mergeSource struct {
	sc   *bufio.Scanner
	f    *os.File
	line string
	done bool
}

func (s *mergeSource) advance() {
	if s.sc.Scan() {
		s.line = s.sc.Text()
		return
	}
	s.done = true
}

// mergeChunks k-way merges already-sorted, already-deduped chunk files
// into one sorted, globally-deduped output file.
func mergeChunks(chunkPaths []string) (string, error) {
	sources := make([]*mergeSource, 0, len(chunkPaths))
	for _, cp := range chunkPaths {
		f, err := os.Open(cp)
		if err != nil {
			return "", errors.Wrapf(err, "ledger: open chunk %s", cp)
		}
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		s := &mergeSource{sc: sc, f: f}
		s.advance()
		sources = append(sources, s)
	}
	defer func() {
		for _, s := range sources {
			s.f.Close()
		}
	}()

	out, err := os.CreateTemp("", "debmirror-ledger-sorted-*.txt")
	if err != nil {
		return "", errors.Wrap(err, "ledger: create merged output file")
	}
	defer out.Close()
	w := bufio.NewWriter(out)

	var prev string
	first := true
	for {
		minIdx := -1
		for i, s := range sources {
			if s.done {
				continue
			}
			if minIdx == -1 || s.line < sources[minIdx].line {
				minIdx = i
			}
		}
		if minIdx == -1 {
			break
		}
		candidate := sources[minIdx].line
		if first || candidate != prev {
			w.WriteString(candidate)
			w.WriteByte('\n')
			prev = candidate
			first = false
		}
		sources[minIdx].advance()
	}

	if err := w.Flush(); err != nil {
		return "", errors.Wrap(err, "ledger: flush merged output file")
	}
	return out.Name(), nil
}
