// Package fetch retrieves remote files into the local mirror tree with
// the same atomic-temp-file-then-rename discipline the rest of this
// codebase uses for every write, but with no opinion on checksums:
// verification is the caller's job (see internal/hash).
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/pkg/errors"

	"github.com/debmirror/debmirror/internal/iosys"
)

// ErrNotFound is returned by Fetch and Probe when the remote responds 404.
var ErrNotFound = errors.New("fetch: not found")

// Doer is the subset of *http.Client that Fetcher depends on, so tests
// can substitute a stub without standing up a real listener when an
// httptest.Server is overkill.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher retrieves URLs into an iosys.FileSystem.
type Fetcher struct {
	fs     iosys.FileSystem
	client Doer
}

// New returns a Fetcher backed by fs and client. If client is nil,
// http.DefaultClient is used.
func New(fs iosys.FileSystem, client Doer) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{fs: fs, client: client}
}

// Fetch downloads urlStr to destPath, writing through a ".tmp" sibling
// file and renaming into place only once the full body has landed
// successfully, so a crash mid-download never leaves a corrupt file at
// destPath. It returns the number of bytes written.
func (f *Fetcher) Fetch(ctx context.Context, urlStr, destPath string) (int64, error) {
	if err := f.fs.MkdirAll(path.Dir(destPath), 0o755); err != nil {
		return 0, errors.Wrapf(err, "fetch %s: mkdir", destPath)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return 0, errors.Wrapf(err, "fetch %s: build request", urlStr)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, errors.Wrapf(err, "fetch %s: request", urlStr)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, errors.Wrapf(ErrNotFound, "fetch %s", urlStr)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("fetch %s: unexpected status %d", urlStr, resp.StatusCode)
	}

	tmpPath := destPath + ".tmp"
	out, err := f.fs.Create(tmpPath)
	if err != nil {
		return 0, errors.Wrapf(err, "fetch %s: create temp file", urlStr)
	}

	n, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if copyErr != nil {
		f.fs.Remove(tmpPath)
		return 0, errors.Wrapf(copyErr, "fetch %s: copy body", urlStr)
	}
	if closeErr != nil {
		f.fs.Remove(tmpPath)
		return 0, errors.Wrapf(closeErr, "fetch %s: close temp file", urlStr)
	}

	if err := f.fs.Rename(tmpPath, destPath); err != nil {
		f.fs.Remove(tmpPath)
		return 0, errors.Wrapf(err, "fetch %s: rename into place", urlStr)
	}
	return n, nil
}

// Probe performs a HEAD request (falling back to a GET, whose body is
// closed unread, when the origin answers HEAD with 405) against each of
// candidates in order
// and returns the URL string of the first that responds 200. It returns
// ErrNotFound if none do. This realizes the "multiple filename
// extensions may be tried in a declared preference order" rule in the
// Packages/Release handler contracts.
func (f *Fetcher) Probe(ctx context.Context, candidates []string) (string, error) {
	for _, u := range candidates {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
		if err != nil {
			return "", errors.Wrapf(err, "probe %s: build request", u)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return "", errors.Wrapf(err, "probe %s: request", u)
		}
		resp.Body.Close()
		status := resp.StatusCode
		if status == http.StatusMethodNotAllowed {
			getReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				return "", errors.Wrapf(err, "probe %s: build request", u)
			}
			getResp, err := f.client.Do(getReq)
			if err != nil {
				return "", errors.Wrapf(err, "probe %s: request", u)
			}
			getResp.Body.Close()
			status = getResp.StatusCode
		}
		switch status {
		case http.StatusOK:
			return u, nil
		case http.StatusNotFound, http.StatusMethodNotAllowed:
			continue
		default:
			return "", errors.Errorf("probe %s: unexpected status %d", u, status)
		}
	}
	return "", errors.Wrapf(ErrNotFound, "probe: none of %d candidates available", len(candidates))
}

// JoinURL joins a base repository URL with a relative archive path,
// e.g. ("https://deb.debian.org/debian", "dists/bookworm/Release").
func JoinURL(base, rel string) string {
	return fmt.Sprintf("%s/%s", trimSlash(base), rel)
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
