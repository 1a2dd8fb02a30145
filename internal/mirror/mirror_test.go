package mirror

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"

	"github.com/debmirror/debmirror/internal/config"
	"github.com/debmirror/debmirror/internal/fetch"
	"github.com/debmirror/debmirror/internal/iosys"
	"github.com/debmirror/debmirror/internal/release"
	"github.com/debmirror/debmirror/internal/sign"
)

const mainPackages = "Package: foo\nVersion: 1.0\nFilename: pool/main/f/foo/foo_1.0_amd64.deb\nSize: 11\nSHA256: 4c31011ba62eeee1138647a5cc58446f2688c5114dc9750f4760b3e6d313d983\n\n"

const contribPackages = "Package: bar\nVersion: 1.0\nFilename: pool/contrib/b/bar/bar_1.0_arm64.deb\nSize: 11\nSHA256: 4c31011ba62eeee1138647a5cc58446f2688c5114dc9750f4760b3e6d313d983\n\n"

const debBlob = "deb-content"

const sampleUpstreamRelease = "Origin: Debmirror Test\n" +
	"Codename: bookworm\n" +
	"Date: Mon, 01 Jan 2024 00:00:00 UTC\n" +
	"Architectures: amd64 arm64\n" +
	"Components: main contrib\n" +
	"SHA256:\n" +
	" e52a44e1468283f70a99e531163ba9eed410d2f31970913299e96c860cf7ff24 153 main/binary-amd64/Packages\n" +
	" 2eb41dc7b6159aa257f4d9e71328cbe13b803a922338fc8cc6b024104f1e242f 156 contrib/binary-arm64/Packages\n"

type testLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *testLogger) Debug(msg string, args ...any) {}
func (l *testLogger) Info(msg string, args ...any)  {}

func (l *testLogger) Error(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *testLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *testLogger) hasError(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.errors {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

func generateTestKeyring(t *testing.T) *sign.Keyring {
	t.Helper()
	entity, err := openpgp.NewEntity("Mirror Test", "test archive key", "test@example.com", nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PrivateKeyType, nil)
	if err != nil {
		t.Fatalf("armor encode: %v", err)
	}
	if err := entity.SerializePrivate(w, nil); err != nil {
		t.Fatalf("serialize private: %v", err)
	}
	w.Close()

	kr, err := sign.LoadPrivateKey(buf.String(), nil)
	if err != nil {
		t.Fatalf("LoadPrivateKey: %v", err)
	}
	return kr
}

func drain(ch <-chan ProgressUpdate) {
	for range ch {
	}
}

func TestMirrorSynthesizesReleaseWhenUpstreamAbsent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/dists/bookworm/main/binary-amd64/Packages", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(mainPackages))
	})
	mux.HandleFunc("/pool/main/f/foo/foo_1.0_amd64.deb", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(debBlob))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	fsys := iosys.NewMemFileSystem()
	fetcher := fetch.New(fsys, srv.Client())
	logger := &testLogger{}
	runner := NewRunner(fsys, fetcher, logger, 2)

	spec := config.MirrorSpec{
		Source:        srv.URL,
		Destination:   "/dest",
		Distributives: []string{"bookworm"},
		Sections:      []string{"main"},
		Architectures: []string{"amd64"},
	}

	drain(runner.Mirror(context.Background(), spec, Options{}))

	deb, err := fsys.ReadFile("/dest/pool/main/f/foo/foo_1.0_amd64.deb")
	if err != nil {
		t.Fatalf("deb not downloaded: %v", err)
	}
	if string(deb) != debBlob {
		t.Errorf("deb content = %q", deb)
	}

	rawRelease, err := fsys.ReadFile("/dest/dists/bookworm/Release")
	if err != nil {
		t.Fatalf("Release not synthesized: %v", err)
	}
	if !strings.Contains(string(rawRelease), "Codename: bookworm") {
		t.Errorf("synthesized Release missing Codename: %s", rawRelease)
	}

	rawInRelease, err := fsys.ReadFile("/dest/dists/bookworm/InRelease")
	if err != nil {
		t.Fatalf("InRelease not synthesized: %v", err)
	}
	if !strings.Contains(string(rawInRelease), "Codename: bookworm") {
		t.Errorf("synthesized InRelease missing Codename: %s", rawInRelease)
	}
}

func gzipBytes(t *testing.T, data string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write([]byte(data)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func TestMirrorSynthesizesFromCompressedPackagesOnly(t *testing.T) {
	gzipped := gzipBytes(t, mainPackages)

	mux := http.NewServeMux()
	mux.HandleFunc("/dists/bookworm/main/binary-amd64/Packages.gz", func(w http.ResponseWriter, r *http.Request) {
		w.Write(gzipped)
	})
	mux.HandleFunc("/dists/bookworm/main/binary-amd64/Packages", func(w http.ResponseWriter, r *http.Request) {
		t.Error("plain Packages should not be probed before Packages.gz")
		http.NotFound(w, r)
	})
	mux.HandleFunc("/pool/main/f/foo/foo_1.0_amd64.deb", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(debBlob))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	fsys := iosys.NewMemFileSystem()
	fetcher := fetch.New(fsys, srv.Client())
	logger := &testLogger{}
	runner := NewRunner(fsys, fetcher, logger, 2)

	spec := config.MirrorSpec{
		Source:        srv.URL,
		Destination:   "/dest-gz",
		Distributives: []string{"bookworm"},
		Sections:      []string{"main"},
		Architectures: []string{"amd64"},
	}

	drain(runner.Mirror(context.Background(), spec, Options{}))

	if len(logger.errors) != 0 {
		t.Fatalf("unexpected errors: %v", logger.errors)
	}

	if _, err := fsys.ReadFile("/dest-gz/dists/bookworm/main/binary-amd64/Packages.gz"); err != nil {
		t.Fatalf("Packages.gz not fetched: %v", err)
	}
	deb, err := fsys.ReadFile("/dest-gz/pool/main/f/foo/foo_1.0_amd64.deb")
	if err != nil {
		t.Fatalf("deb not downloaded: %v", err)
	}
	if string(deb) != debBlob {
		t.Errorf("deb content = %q", deb)
	}

	rawRelease, err := fsys.ReadFile("/dest-gz/dists/bookworm/Release")
	if err != nil {
		t.Fatalf("Release not synthesized: %v", err)
	}
	if !strings.Contains(string(rawRelease), "Codename: bookworm") {
		t.Errorf("synthesized Release missing Codename: %s", rawRelease)
	}
}

func TestMirrorPrunesAndResignsUpstreamRelease(t *testing.T) {
	var contribHits int
	var mu sync.Mutex

	mux := http.NewServeMux()
	mux.HandleFunc("/dists/bookworm/Release", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleUpstreamRelease))
	})
	mux.HandleFunc("/dists/bookworm/main/binary-amd64/Packages", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(mainPackages))
	})
	mux.HandleFunc("/dists/bookworm/contrib/binary-arm64/Packages", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		contribHits++
		mu.Unlock()
		w.Write([]byte(contribPackages))
	})
	mux.HandleFunc("/pool/main/f/foo/foo_1.0_amd64.deb", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(debBlob))
	})
	mux.HandleFunc("/pool/contrib/b/bar/bar_1.0_arm64.deb", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(debBlob))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	fsys := iosys.NewMemFileSystem()
	fetcher := fetch.New(fsys, srv.Client())
	logger := &testLogger{}
	kr := generateTestKeyring(t)
	defer kr.Close()
	runner := NewRunner(fsys, fetcher, logger, 2)

	spec := config.MirrorSpec{
		Source:        srv.URL,
		Destination:   "/dest2",
		Distributives: []string{"bookworm"},
		Sections:      []string{"main"},
		Architectures: []string{"amd64"},
	}

	drain(runner.Mirror(context.Background(), spec, Options{ResignKeyring: kr}))

	if len(logger.errors) != 0 {
		t.Fatalf("unexpected errors: %v", logger.errors)
	}

	mu.Lock()
	hits := contribHits
	mu.Unlock()
	if hits != 0 {
		t.Errorf("contrib/arm64 Packages was fetched %d times, want 0 (should have been pruned)", hits)
	}

	if _, err := fsys.ReadFile("/dest2/pool/contrib/b/bar/bar_1.0_arm64.deb"); err == nil {
		t.Error("bar_1.0_arm64.deb should not have been downloaded")
	}
	if _, err := fsys.ReadFile("/dest2/pool/main/f/foo/foo_1.0_amd64.deb"); err != nil {
		t.Errorf("foo_1.0_amd64.deb should have been downloaded: %v", err)
	}

	rawRelease, err := fsys.ReadFile("/dest2/dists/bookworm/Release")
	if err != nil {
		t.Fatalf("read pruned Release: %v", err)
	}
	pruned, err := release.Parse(release.ReleaseVariant, "dists/bookworm", rawRelease)
	if err != nil {
		t.Fatalf("parse pruned Release: %v", err)
	}
	if _, ok := pruned.Files["contrib/binary-arm64/Packages"]; ok {
		t.Error("pruned Release still references contrib/binary-arm64/Packages")
	}
	if _, ok := pruned.Files["main/binary-amd64/Packages"]; !ok {
		t.Error("pruned Release lost main/binary-amd64/Packages")
	}

	if _, err := fsys.Stat("/dest2/dists/bookworm/Release.gpg"); err != nil {
		t.Error("pruned Release should have been resigned with a detached signature")
	}

	rawInRelease, err := fsys.ReadFile("/dest2/dists/bookworm/InRelease")
	if err != nil {
		t.Fatalf("read InRelease: %v", err)
	}
	if !strings.Contains(string(rawInRelease), "-----BEGIN PGP SIGNED MESSAGE-----") {
		t.Error("InRelease should be inline-signed")
	}
}

func TestMirrorRequiresResignKeyToPruneUpstreamRelease(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/dists/bookworm/Release", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleUpstreamRelease))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	fsys := iosys.NewMemFileSystem()
	fetcher := fetch.New(fsys, srv.Client())
	logger := &testLogger{}
	runner := NewRunner(fsys, fetcher, logger, 2)

	spec := config.MirrorSpec{
		Source:        srv.URL,
		Destination:   "/dest3",
		Distributives: []string{"bookworm"},
		Sections:      []string{"main"},
		Architectures: []string{"amd64"},
	}

	drain(runner.Mirror(context.Background(), spec, Options{}))

	if !logger.hasError("resigning key") {
		t.Fatalf("expected a missing-resigning-key error, got: %v", logger.errors)
	}
	if _, err := fsys.Stat("/dest3/dists/bookworm/InRelease"); err == nil {
		t.Error("InRelease should not have been produced when pruning was rejected")
	}
}

