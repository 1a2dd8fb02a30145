// Package debver orders Debian package version strings per the policy
// manual's algorithm, for the Packages index handler's strip_versions
// retention rule.
package debver

import (
	deb "github.com/knqyf263/go-deb-version"
	"github.com/pkg/errors"
)

// Compare returns -1, 0, or 1 as a orders before, at the same position
// as, or after b, using Debian's epoch:upstream-version:debian-revision
// comparison algorithm rather than lexical or semver ordering.
func Compare(a, b string) (int, error) {
	va, err := deb.NewVersion(a)
	if err != nil {
		return 0, errors.Wrapf(err, "debver: parse %q", a)
	}
	vb, err := deb.NewVersion(b)
	if err != nil {
		return 0, errors.Wrapf(err, "debver: parse %q", b)
	}
	return va.Compare(vb), nil
}

// SortDescending returns versions ordered from newest to oldest.
// Versions that fail to parse sort last, in their original relative
// order, since a malformed version string should never mask a package
// that does parse from retention.
func SortDescending(versions []string) []string {
	type entry struct {
		raw string
		v   deb.Version
		ok  bool
	}
	entries := make([]entry, len(versions))
	for i, s := range versions {
		v, err := deb.NewVersion(s)
		entries[i] = entry{raw: s, v: v, ok: err == nil}
	}

	out := make([]string, 0, len(versions))
	// Stable partition: all parseable entries, newest-first, then all
	// unparseable entries in original order.
	for i := 0; i < len(entries); i++ {
		if !entries[i].ok {
			continue
		}
		pos := 0
		for pos < len(out) {
			ov, _ := deb.NewVersion(out[pos])
			if entries[i].v.Compare(ov) > 0 {
				break
			}
			pos++
		}
		out = append(out, "")
		copy(out[pos+1:], out[pos:])
		out[pos] = entries[i].raw
	}
	for _, e := range entries {
		if !e.ok {
			out = append(out, e.raw)
		}
	}
	return out
}

// TopN returns the n newest versions per SortDescending, or all of
// versions if there are fewer than n.
func TopN(versions []string, n int) []string {
	sorted := SortDescending(versions)
	if n >= len(sorted) || n < 0 {
		return sorted
	}
	return sorted[:n]
}
