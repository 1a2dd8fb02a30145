// Package packages implements the Packages index handler: parsing a
// component/architecture index into its per-package records, applying
// the strip_versions retention policy, and re-emitting the index across
// every configured compression codec with refreshed checksums.
//
// This generalizes the teacher's extractDebsFromIndex/processPackageIndex
// (which only ever extracted a flat Filename+SHA256 pair per stanza) to
// the full control-paragraph model, adding the retention and
// multi-codec re-emission the teacher never implemented.
package packages

import (
	"bytes"
	"io"
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"github.com/debmirror/debmirror/internal/compress"
	"github.com/debmirror/debmirror/internal/control"
	"github.com/debmirror/debmirror/internal/debver"
	"github.com/debmirror/debmirror/internal/hash"
)

// Schema declares the control-file field conventions a Packages index
// uses: none of its fields are checksum-list or empty-key fields, but
// several (Tag, Depends-like fields are scalar in practice) are folded
// across continuation lines like any control stanza.
var Schema = &control.Schema{}

// Record is one package stanza, carrying both its raw control
// paragraph (so unrecognized fields survive re-emission unchanged) and
// the fields the mirror runner and retention policy need structured
// access to.
type Record struct {
	Paragraph *control.Paragraph
	Package   string
	Version   string
	Filename  string
	Size      int64
	SHA256    string
	Sub       []string // Filename split on "/", for the pool layout
}

// Index is a parsed Packages file: an ordered list of records plus the
// path (relative to the distribution root) it was read from, e.g.
// "main/binary-amd64/Packages".
type Index struct {
	Path    string
	Records []Record
}

// Parse decodes raw control-file bytes (already decompressed by the
// caller via internal/compress) into an Index.
func Parse(path string, raw []byte) (*Index, error) {
	doc, err := control.Parse(bytes.NewReader(raw), Schema)
	if err != nil {
		return nil, errors.Wrapf(err, "packages: parse %s", path)
	}

	idx := &Index{Path: path}
	for _, p := range doc.Paragraphs {
		rec, err := recordFromParagraph(p)
		if err != nil {
			return nil, errors.Wrapf(err, "packages: %s", path)
		}
		idx.Records = append(idx.Records, rec)
	}
	return idx, nil
}

func recordFromParagraph(p *control.Paragraph) (Record, error) {
	filename := p.GetScalar("Filename")
	if filename == "" {
		return Record{}, errors.New("package stanza missing Filename")
	}
	sizeStr := p.GetScalar("Size")
	var size int64
	if sizeStr != "" {
		n, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil {
			return Record{}, errors.Wrapf(err, "invalid Size %q", sizeStr)
		}
		size = n
	}
	return Record{
		Paragraph: p,
		Package:   p.GetScalar("Package"),
		Version:   p.GetScalar("Version"),
		Filename:  filename,
		Size:      size,
		SHA256:    p.GetScalar("SHA256"),
		Sub:       splitPath(filename),
	}, nil
}

func splitPath(filename string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(filename); i++ {
		if filename[i] == '/' {
			parts = append(parts, filename[start:i])
			start = i + 1
		}
	}
	parts = append(parts, filename[start:])
	return parts
}

// StripVersions drops all but the newest `keep` versions of each
// package name, per Debian version ordering (internal/debver), and
// returns the retained subset. keep <= 0 disables the retention policy
// and returns records unchanged.
func StripVersions(records []Record, keep int) []Record {
	if keep <= 0 {
		return records
	}

	byName := make(map[string][]Record)
	var order []string
	for _, r := range records {
		if _, ok := byName[r.Package]; !ok {
			order = append(order, r.Package)
		}
		byName[r.Package] = append(byName[r.Package], r)
	}

	var out []Record
	for _, name := range order {
		group := byName[name]
		sort.SliceStable(group, func(i, j int) bool {
			c, err := debver.Compare(group[i].Version, group[j].Version)
			if err != nil {
				return false
			}
			return c > 0
		})
		if keep < len(group) {
			group = group[:keep]
		}
		out = append(out, group...)
	}
	return out
}

// Write serializes records back into control-file wire format.
func Write(w io.Writer, records []Record) error {
	doc := &control.Document{Paragraphs: make([]*control.Paragraph, len(records))}
	for i, r := range records {
		doc.Paragraphs[i] = r.Paragraph
	}
	return control.Emit(w, doc, Schema)
}

// Emitted is one re-emitted Packages sibling file: its codec, the
// compressed bytes, and the digests of those bytes for the owning
// Release manifest's checksum tables.
type Emitted struct {
	Codec   compress.Codec
	Bytes   []byte
	Digests hash.Digests
}

// Reemit writes records out under every codec in codecs, computing
// fresh digests for each (updated_checksums in the component design).
// The plain, uncompressed form is always included regardless of codecs,
// since Release manifests list it unconditionally.
func Reemit(records []Record, codecs []compress.Codec) ([]Emitted, error) {
	var plain bytes.Buffer
	if err := Write(&plain, records); err != nil {
		return nil, errors.Wrap(err, "packages: reemit plain form")
	}

	seen := map[compress.Codec]bool{compress.Plain: true}
	all := []compress.Codec{compress.Plain}
	for _, c := range codecs {
		if !seen[c] {
			seen[c] = true
			all = append(all, c)
		}
	}

	out := make([]Emitted, 0, len(all))
	for _, c := range all {
		var buf bytes.Buffer
		if c == compress.Plain {
			buf = plain
		} else {
			w, err := compress.NewWriter(c, &buf)
			if err != nil {
				return nil, err
			}
			if _, err := w.Write(plain.Bytes()); err != nil {
				return nil, errors.Wrapf(err, "packages: compress %s", c)
			}
			if err := w.Close(); err != nil {
				return nil, errors.Wrapf(err, "packages: close %s writer", c)
			}
		}

		digests, _, err := hash.Sum(bytes.NewReader(buf.Bytes()), hash.All)
		if err != nil {
			return nil, err
		}
		out = append(out, Emitted{Codec: c, Bytes: buf.Bytes(), Digests: digests})
	}
	return out, nil
}
