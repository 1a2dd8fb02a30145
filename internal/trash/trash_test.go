package trash

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/debmirror/debmirror/internal/iosys"
	"github.com/debmirror/debmirror/internal/ledger"
)

func TestRemoverDeletesUnreferencedFiles(t *testing.T) {
	fsys := iosys.NewMemFileSystem()
	mustWrite(t, fsys, "/dest/dists/bookworm/Release", "release")
	mustWrite(t, fsys, "/dest/pool/main/f/foo_1.0.deb", "deb")
	mustWrite(t, fsys, "/dest/dists/bookworm/junk", "junk")

	should := ledger.NewMemLedger()
	should.Record("/dest/dists/bookworm/Release")
	should.Record("/dest/pool/main/f/foo_1.0.deb")

	r := New(fsys, should)
	removed, err := r.Run("/dest")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(removed) != 1 || removed[0] != "/dest/dists/bookworm/junk" {
		t.Fatalf("removed = %v, want just the junk file", removed)
	}
	if _, err := fsys.Stat("/dest/dists/bookworm/Release"); err != nil {
		t.Error("Release should have survived")
	}
}

func TestRemoverNoOpWhenEverythingReferenced(t *testing.T) {
	fsys := iosys.NewMemFileSystem()
	mustWrite(t, fsys, "/dest/a", "a")
	mustWrite(t, fsys, "/dest/b", "b")

	should := ledger.NewMemLedger()
	should.Record("/dest/a")
	should.Record("/dest/b")

	r := New(fsys, should)
	removed, err := r.Run("/dest")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(removed) != 0 {
		t.Errorf("removed = %v, want none", removed)
	}
}

func TestRunExternalSortDeletesUnreferencedFiles(t *testing.T) {
	root := t.TempDir()
	keepPath := filepath.Join(root, "keep.deb")
	junkPath := filepath.Join(root, "junk.deb")
	if err := os.WriteFile(keepPath, []byte("keep"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(junkPath, []byte("junk"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	logPath := filepath.Join(t.TempDir(), "written.txt")
	if err := os.WriteFile(logPath, []byte(keepPath+"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	removed, err := RunExternalSort(root, logPath)
	if err != nil {
		t.Fatalf("RunExternalSort: %v", err)
	}
	sort.Strings(removed)
	if len(removed) != 1 || removed[0] != junkPath {
		t.Fatalf("removed = %v, want [%s]", removed, junkPath)
	}
	if _, err := os.Stat(keepPath); err != nil {
		t.Error("keep.deb should have survived")
	}
	if _, err := os.Stat(junkPath); !os.IsNotExist(err) {
		t.Error("junk.deb should have been removed")
	}
}

func mustWrite(t *testing.T, fsys iosys.FileSystem, path, content string) {
	t.Helper()
	if err := fsys.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
}
