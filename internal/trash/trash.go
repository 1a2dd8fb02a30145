// Package trash removes files under a mirror's destination that the
// current run no longer references, the read-phase counterpart to
// internal/ledger's write-phase bookkeeping. It generalizes the
// teacher's cleanupOrphanedPackages (repo/repo.go), which only ever
// walked "pool/" and compared against a single in-memory
// validPackages map, to walk the entire destination tree and compare
// against either ledger implementation.
package trash

import (
	"bufio"
	"io/fs"
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/debmirror/debmirror/internal/iosys"
	"github.com/debmirror/debmirror/internal/ledger"
)

// Remover deletes every regular file under a destination root that is
// not recorded in a ledger.Ledger, the default in-memory-set mode
// (ledger.MemLedger) this module targets for modern single-host usage.
type Remover struct {
	fs     iosys.FileSystem
	should ledger.Ledger
}

// New returns a Remover that treats should as the authoritative set of
// paths that must survive.
func New(fsys iosys.FileSystem, should ledger.Ledger) *Remover {
	return &Remover{fs: fsys, should: should}
}

// Run walks root and deletes every regular file not present in the
// ledger, returning the list of paths it removed.
func (r *Remover) Run(root string) ([]string, error) {
	var toRemove []string
	err := r.fs.WalkDir(root, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.IsDir() {
			return nil
		}
		if !r.should.Contains(path) {
			toRemove = append(toRemove, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "trash: walk %s", root)
	}

	var removed []string
	for _, path := range toRemove {
		if err := r.fs.Remove(path); err != nil {
			return removed, errors.Wrapf(err, "trash: remove %s", path)
		}
		removed = append(removed, path)
	}
	return removed, nil
}

// RunExternalSort is the bounded-memory mode: it enumerates root's
// regular files to a temp file, external-sorts both that listing and
// the ledger's written-paths log (via ledger.ExternalSort), then
// linear merge-walks the two sorted streams, deleting every path
// present in "current" but absent from "should". It operates directly
// against the OS filesystem (as ledger.FileLedger does), since the
// intermediate sort files are themselves a filesystem implementation
// detail rather than part of the mirrored tree.
func RunExternalSort(root string, writtenLogPath string) ([]string, error) {
	currentPath, err := enumerateRegularFiles(root)
	if err != nil {
		return nil, err
	}
	defer os.Remove(currentPath)

	sortedCurrent, err := ledger.ExternalSort(currentPath)
	if err != nil {
		return nil, errors.Wrap(err, "trash: sort current listing")
	}
	defer os.Remove(sortedCurrent)

	sortedShould, err := ledger.ExternalSort(writtenLogPath)
	if err != nil {
		return nil, errors.Wrap(err, "trash: sort written-paths log")
	}
	defer os.Remove(sortedShould)

	return mergeWalkDelete(sortedCurrent, sortedShould)
}

func enumerateRegularFiles(root string) (string, error) {
	out, err := os.CreateTemp("", "debmirror-trash-current-*.txt")
	if err != nil {
		return "", errors.Wrap(err, "trash: create current-listing temp file")
	}
	defer out.Close()
	w := bufio.NewWriter(out)

	err = filepathWalkDir(root, func(path string, isDir bool) error {
		if isDir {
			return nil
		}
		w.WriteString(path)
		w.WriteByte('\n')
		return nil
	})
	if err != nil {
		return "", err
	}
	if err := w.Flush(); err != nil {
		return "", errors.Wrap(err, "trash: flush current-listing temp file")
	}
	return out.Name(), nil
}

// filepathWalkDir is a thin indirection over iosys.OsFileSystem's
// WalkDir so RunExternalSort's OS-rooted traversal shares one
// implementation with the in-memory-mode Remover.
func filepathWalkDir(root string, fn func(path string, isDir bool) error) error {
	osfs := iosys.NewOsFileSystem()
	return osfs.WalkDir(root, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return fn(path, de.IsDir())
	})
}

func mergeWalkDelete(currentPath, shouldPath string) ([]string, error) {
	current, err := readLines(currentPath)
	if err != nil {
		return nil, err
	}
	should, err := readLines(shouldPath)
	if err != nil {
		return nil, err
	}

	var removed []string
	i, j := 0, 0
	for i < len(current) {
		for j < len(should) && should[j] < current[i] {
			j++
		}
		if j < len(should) && should[j] == current[i] {
			i++
			continue
		}
		if err := os.Remove(current[i]); err != nil && !os.IsNotExist(err) {
			return removed, errors.Wrapf(err, "trash: remove %s", current[i])
		}
		removed = append(removed, current[i])
		i++
	}
	return removed, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "trash: open %s", path)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	sort.Strings(lines) // already sorted by ExternalSort; defensive no-op
	return lines, nil
}
