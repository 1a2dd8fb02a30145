// Package release implements the Release/InRelease handler: parsing a
// distribution's top-level manifest, exposing its per-file checksum
// table, and applying the pruning, re-emission, and signing operations
// that turn an upstream manifest into the mirror's own.
//
// It generalizes the teacher's parseReleaseFile/isDesired
// (repo/repo.go), which only ever extracted a flat list of interesting
// sub-paths, into the full file-manifest model with merged per-algorithm
// digests and by-hash alias computation.
package release

import (
	"bytes"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/debmirror/debmirror/internal/compress"
	"github.com/debmirror/debmirror/internal/control"
	"github.com/debmirror/debmirror/internal/hash"
	"github.com/debmirror/debmirror/internal/packages"
	"github.com/debmirror/debmirror/internal/sign"
)

// Algo is one of the checksum algorithms a Release manifest tabulates.
// It shares its string values with internal/hash.Algo and with the
// control-file field names (MD5Sum, SHA1, SHA256, SHA512) that carry
// them, which is also the by-hash subdirectory name for that algorithm.
type Algo = hash.Algo

// Variant distinguishes the detached-signed Release file from the
// inline-signed InRelease document; they share every other behavior.
type Variant int

const (
	ReleaseVariant Variant = iota
	InReleaseVariant
)

// Schema declares the control-file field conventions a Release
// manifest uses.
var Schema = &control.Schema{
	ListFields: map[string]bool{
		"architectures": true,
		"components":    true,
	},
	ChecksumFields: map[string]bool{
		"md5sum": true,
		"sha1":   true,
		"sha256": true,
		"sha512": true,
	},
}

// FileEntry is one file named in the manifest's checksum tables, with
// its digests merged across every algorithm that named it.
type FileEntry struct {
	Filename string
	Size     int64
	Hash     map[Algo]string
	Sub      []string
	ByHash   []string // by-hash alias paths, populated when AcquireByHash is set
}

// Release is a parsed Release or InRelease document.
type Release struct {
	Variant       Variant
	Dir           string // e.g. "dists/bookworm", used to compute by-hash alias paths
	Paragraph     *control.Paragraph
	Files         map[string]*FileEntry
	fileOrder     []string
	AcquireByHash bool

	signatureArmor []byte // detached-style armor block; nil if unsigned
}

var algoFields = []string{"MD5Sum", "SHA1", "SHA256", "SHA512"}

// Parse decodes raw bytes at dir (e.g. "dists/bookworm") as the given
// variant. For InReleaseVariant, the PGP envelope is stripped first; a
// file lacking the envelope is parsed as a plain Release, matching
// upstream's own fallback behavior for unsigned test mirrors.
func Parse(variant Variant, dir string, raw []byte) (*Release, error) {
	body := raw
	var sigArmor []byte
	if variant == InReleaseVariant {
		b, sig, signed, err := stripInlineEnvelope(raw)
		if err != nil {
			return nil, errors.Wrap(err, "release: strip inline envelope")
		}
		body = b
		if signed {
			sigArmor = sig
		}
	}

	doc, err := control.Parse(bytes.NewReader(body), Schema)
	if err != nil {
		return nil, errors.Wrap(err, "release: parse control paragraph")
	}
	p, ok := doc.Single()
	if !ok {
		return nil, errors.New("release: expected a single paragraph")
	}

	// Components embedded with a parent path (security archives use
	// "updates/main") are reduced to their basename.
	if comps := p.GetList("Components"); comps != nil {
		flat := make([]string, len(comps))
		for i, c := range comps {
			flat[i] = path.Base(c)
		}
		p.SetList("Components", flat)
	}

	r := &Release{
		Variant:        variant,
		Dir:            dir,
		Paragraph:      p,
		Files:          make(map[string]*FileEntry),
		signatureArmor: sigArmor,
	}
	r.AcquireByHash = isTrue(p.GetScalar("Acquire-By-Hash"))

	for _, field := range algoFields {
		entries := p.GetChecksums(field)
		algo := Algo(field)
		for _, e := range entries {
			fe, ok := r.Files[e.Filename]
			if !ok {
				fe = &FileEntry{Filename: e.Filename, Size: e.Size, Hash: make(map[Algo]string)}
				r.Files[e.Filename] = fe
				r.fileOrder = append(r.fileOrder, e.Filename)
			} else if fe.Size != e.Size {
				return nil, errors.Errorf("release: size mismatch for %s: %d vs %d", e.Filename, fe.Size, e.Size)
			}
			fe.Hash[algo] = e.Hash
		}
	}

	r.computeSubAndByHash()
	return r, nil
}

func isTrue(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "true"
}

func (r *Release) computeSubAndByHash() {
	for _, filename := range r.fileOrder {
		fe := r.Files[filename]
		fe.Sub = append(splitComponents(r.Dir), splitComponents(filename)...)
		fe.ByHash = nil
		if !r.AcquireByHash {
			continue
		}
		for algo, hex := range fe.Hash {
			fe.ByHash = append(fe.ByHash, path.Join(path.Dir(path.Join(r.Dir, filename)), "by-hash", string(algo), hex))
		}
		sort.Strings(fe.ByHash)
	}
}

func splitComponents(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// GetSubfiles returns the merged file manifest computed during Parse
// (or refreshed after a pruning operation).
func (r *Release) GetSubfiles() map[string]*FileEntry {
	return r.Files
}

// SkipAllArchitecture reports whether this Release declares that
// clients need not fetch the "all"-architecture grid separately.
func (r *Release) SkipAllArchitecture() bool {
	v := r.Paragraph.GetScalar("No-Support-for-Architecture-all")
	return isTrue(v)
}

// PackagesRef names the per-extension manifest entries backing one
// (component, architecture) Packages index.
type PackagesRef struct {
	BasePath string // e.g. "main/binary-amd64/Packages"
	Variants map[compress.Codec]*FileEntry
}

// Checksums returns the per-extension checksum map: ext -> algo -> hex.
func (pr *PackagesRef) Checksums() map[compress.Codec]map[Algo]string {
	out := make(map[compress.Codec]map[Algo]string, len(pr.Variants))
	for c, fe := range pr.Variants {
		out[c] = fe.Hash
	}
	return out
}

// GetPackagesFile locates the manifest entries for
// "<section>/binary-<arch>/Packages[.ext]". Architecture "all" returns
// (nil, nil) rather than an error, since an archive may legitimately
// carry no arch-independent index.
func (r *Release) GetPackagesFile(section, arch string) (*PackagesRef, error) {
	basePath := fmt.Sprintf("%s/binary-%s/Packages", section, arch)
	ref := &PackagesRef{BasePath: basePath, Variants: make(map[compress.Codec]*FileEntry)}
	for filename, fe := range r.Files {
		base := strings.TrimSuffix(filename, compress.ForExtension(filename).Suffix())
		if base != basePath {
			continue
		}
		ref.Variants[compress.ForExtension(filename)] = fe
	}
	if len(ref.Variants) == 0 {
		if arch == "all" {
			return nil, nil
		}
		return nil, errors.Errorf("release: no Packages file found for %s", basePath)
	}
	return ref, nil
}

// RemoveValidUntil deletes the Valid-Until field and, for the detached
// variant, drops any pending Release.gpg signature (it is no longer
// valid against the mutated body).
func (r *Release) RemoveValidUntil() {
	r.Paragraph.Delete("Valid-Until")
	if r.Variant == ReleaseVariant {
		r.signatureArmor = nil
	}
}

var archSuffix = func(arch string) *regexp.Regexp {
	return regexp.MustCompile(`-` + regexp.QuoteMeta(arch) + `(\.|$|/)`)
}

// StripArchitectures drops every Architectures entry not in keep
// (always preserving "all"), and removes every manifest entry whose
// filename matches "-<arch>(\.|$|/)" for a dropped architecture.
func (r *Release) StripArchitectures(keep []string) {
	keepSet := map[string]bool{"all": true}
	for _, a := range keep {
		keepSet[a] = true
	}

	current := r.Paragraph.GetList("Architectures")
	var kept []string
	var dropped []string
	for _, a := range current {
		if keepSet[a] {
			kept = append(kept, a)
		} else {
			dropped = append(dropped, a)
		}
	}
	r.Paragraph.SetList("Architectures", kept)

	for _, a := range dropped {
		r.removeMatchingFiles(archSuffix(a))
	}
	r.syncChecksumFields()
}

// StripSections drops every Components entry not in keep, and removes
// every manifest entry whose filename starts with "<section>/".
func (r *Release) StripSections(keep []string) {
	keepSet := make(map[string]bool, len(keep))
	for _, s := range keep {
		keepSet[s] = true
	}

	current := r.Paragraph.GetList("Components")
	var kept []string
	var dropped []string
	for _, c := range current {
		if keepSet[c] {
			kept = append(kept, c)
		} else {
			dropped = append(dropped, c)
		}
	}
	r.Paragraph.SetList("Components", kept)

	for _, s := range dropped {
		prefix := s + "/"
		r.removeMatchingFilesFunc(func(name string) bool {
			return strings.HasPrefix(name, prefix)
		})
	}
	r.syncChecksumFields()
}

var diffPattern = regexp.MustCompile(`\.diff/|\.diff$`)

// StripDiffDirectories removes every manifest entry referencing a
// pdiff incremental-update directory, which this mirror never
// reconstructs.
func (r *Release) StripDiffDirectories() {
	r.removeMatchingFiles(diffPattern)
	r.syncChecksumFields()
}

func (r *Release) removeMatchingFiles(re *regexp.Regexp) {
	r.removeMatchingFilesFunc(re.MatchString)
}

func (r *Release) removeMatchingFilesFunc(match func(string) bool) {
	var kept []string
	for _, name := range r.fileOrder {
		if match(name) {
			delete(r.Files, name)
			continue
		}
		kept = append(kept, name)
	}
	r.fileOrder = kept
}

// syncChecksumFields rewrites the paragraph's MD5Sum/SHA1/SHA256/SHA512
// fields from the current Files map, preserving each field's original
// declared case and the file order seen during Parse.
func (r *Release) syncChecksumFields() {
	for _, field := range algoFields {
		if !r.Paragraph.Has(field) {
			continue
		}
		algo := Algo(field)
		var entries []control.ChecksumEntry
		for _, name := range r.fileOrder {
			fe := r.Files[name]
			hex, ok := fe.Hash[algo]
			if !ok {
				continue
			}
			entries = append(entries, control.ChecksumEntry{Hash: hex, Size: fe.Size, Filename: name})
		}
		r.Paragraph.Set(field, control.Value{Kind: control.ChecksumListValue, Checksums: entries})
	}
	r.computeSubAndByHash()
}

// SpliceChecksums updates (or inserts) the manifest entry for each
// emitted Packages sibling under basePath, replacing its digests with
// the freshly computed ones from a Packages handler's Reemit output.
func (r *Release) SpliceChecksums(basePath string, emitted []packages.Emitted) {
	for _, e := range emitted {
		filename := basePath + e.Codec.Suffix()
		fe, ok := r.Files[filename]
		if !ok {
			fe = &FileEntry{Filename: filename, Hash: make(map[Algo]string)}
			r.Files[filename] = fe
			r.fileOrder = append(r.fileOrder, filename)
		}
		fe.Size = int64(len(e.Bytes))
		for algo, hex := range e.Digests {
			if _, declared := r.Paragraph.Get(string(algo)); declared {
				fe.Hash[algo] = hex
			}
		}
	}
	r.syncChecksumFields()
}

// RenderBody serializes the paragraph to control-file wire format,
// without any signature envelope.
func (r *Release) RenderBody() ([]byte, error) {
	var buf bytes.Buffer
	if err := control.Emit(&buf, &control.Document{Paragraphs: []*control.Paragraph{r.Paragraph}}, Schema); err != nil {
		return nil, errors.Wrap(err, "release: render body")
	}
	return buf.Bytes(), nil
}

// Serialize produces the final on-disk bytes for this variant: the
// plain body for ReleaseVariant (its detached signature, if any,
// belongs in a sibling Release.gpg via DetachedSignature), or the
// inline-wrapped body+signature for InReleaseVariant.
func (r *Release) Serialize() ([]byte, error) {
	body, err := r.RenderBody()
	if err != nil {
		return nil, err
	}
	if r.Variant == ReleaseVariant || r.signatureArmor == nil {
		return body, nil
	}
	return wrapInline(body, r.signatureArmor), nil
}

// DetachedSignature returns the Release.gpg content for a signed
// detached-variant Release, or nil if unsigned.
func (r *Release) DetachedSignature() []byte {
	if r.Variant != ReleaseVariant {
		return nil
	}
	return r.signatureArmor
}

// Signed reports whether this Release carries a signature.
func (r *Release) Signed() bool { return r.signatureArmor != nil }

// Sign produces this variant's signature over the current body: a
// detached Release.gpg for ReleaseVariant, an inline cleartext
// signature for InReleaseVariant.
func (r *Release) Sign(kr *sign.Keyring) error {
	body, err := r.RenderBody()
	if err != nil {
		return err
	}
	switch r.Variant {
	case ReleaseVariant:
		sig, err := kr.DetachSign(body)
		if err != nil {
			return errors.Wrap(err, "release: detach sign")
		}
		r.signatureArmor = sig
	case InReleaseVariant:
		full, err := kr.ClearSign(body)
		if err != nil {
			return errors.Wrap(err, "release: clearsign")
		}
		sigBlock, err := extractSignatureBlock(full)
		if err != nil {
			return err
		}
		r.signatureArmor = sigBlock
	}
	return nil
}

// CreateFrom adopts other's paragraph, manifest, and signature
// verbatim, without recomputing digests or re-signing: the standard
// way a mirror derives InRelease from an already-signed Release (or
// vice versa), since both variants describe the identical archive.
func (r *Release) CreateFrom(other *Release) {
	r.Paragraph = other.Paragraph.Clone()
	r.Dir = other.Dir
	r.AcquireByHash = other.AcquireByHash
	r.Files = make(map[string]*FileEntry, len(other.Files))
	r.fileOrder = append([]string(nil), other.fileOrder...)
	for k, v := range other.Files {
		cp := *v
		cp.Hash = make(map[Algo]string, len(v.Hash))
		for a, h := range v.Hash {
			cp.Hash[a] = h
		}
		r.Files[k] = &cp
	}
	r.signatureArmor = other.signatureArmor
	r.computeSubAndByHash()
}

// Spec describes the minimal identity a synthesized Release needs when
// upstream provides none at all.
type Spec struct {
	Codename      string
	Architectures []string
	Components    []string
	Origin        string
	Label         string
}

// LocalPackagesFile names one Packages base path and its on-disk
// uncompressed bytes, for computing a synthesized Release's checksums.
type LocalPackagesFile struct {
	BasePath string
	Plain    []byte
}

// Create synthesizes a Release from scratch for an archive that
// publishes no manifest of its own: populates Codename, Date (RFC 2822
// UTC), Architectures, Components, and a checksum list per algorithm
// computed by hashing each local Packages file.
func Create(dir string, spec Spec, localFiles []LocalPackagesFile, now time.Time) (*Release, error) {
	p := control.NewParagraph()
	if spec.Origin != "" {
		p.SetScalar("Origin", spec.Origin)
	}
	if spec.Label != "" {
		p.SetScalar("Label", spec.Label)
	}
	p.SetScalar("Codename", spec.Codename)
	p.SetScalar("Date", now.UTC().Format(time.RFC1123Z))
	p.SetList("Architectures", spec.Architectures)
	p.SetList("Components", spec.Components)

	r := &Release{Variant: ReleaseVariant, Dir: dir, Paragraph: p, Files: make(map[string]*FileEntry)}

	for _, algo := range []Algo{hash.MD5, hash.SHA1, hash.SHA256, hash.SHA512} {
		var entries []control.ChecksumEntry
		for _, lf := range localFiles {
			digests, n, err := hash.Sum(bytes.NewReader(lf.Plain), []hash.Algo{algo})
			if err != nil {
				return nil, err
			}
			entries = append(entries, control.ChecksumEntry{Hash: digests[algo], Size: n, Filename: lf.BasePath})

			fe, ok := r.Files[lf.BasePath]
			if !ok {
				fe = &FileEntry{Filename: lf.BasePath, Size: n, Hash: make(map[Algo]string)}
				r.Files[lf.BasePath] = fe
				r.fileOrder = append(r.fileOrder, lf.BasePath)
			}
			fe.Hash[algo] = digests[algo]
		}
		p.Set(string(algo), control.Value{Kind: control.ChecksumListValue, Checksums: entries})
	}

	r.computeSubAndByHash()
	return r, nil
}

// --- inline envelope handling -------------------------------------------------

const (
	beginSignedMessage = "-----BEGIN PGP SIGNED MESSAGE-----"
	beginSignature     = "-----BEGIN PGP SIGNATURE-----"
	endSignature       = "-----END PGP SIGNATURE-----"
)

// stripInlineEnvelope extracts the signable body and the armored
// signature block from an InRelease document. A document lacking the
// envelope is returned unchanged with signed=false, so it can be
// parsed as a plain Release.
func stripInlineEnvelope(raw []byte) (body []byte, sigArmor []byte, signed bool, err error) {
	text := string(raw)
	beginIdx := strings.Index(text, beginSignedMessage)
	if beginIdx < 0 {
		return raw, nil, false, nil
	}

	sigIdx := strings.Index(text, beginSignature)
	if sigIdx < 0 {
		return nil, nil, false, errors.New("release: PGP SIGNED MESSAGE header without a SIGNATURE block")
	}
	endIdx := strings.Index(text, endSignature)
	if endIdx < 0 {
		return nil, nil, false, errors.New("release: unterminated PGP SIGNATURE block")
	}

	header := text[beginIdx+len(beginSignedMessage) : sigIdx]
	lines := strings.Split(header, "\n")
	// Skip the leading blank line after the header and any Hash:/Comment:
	// armor headers, up to the first genuinely blank separator line.
	start := 0
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for start < len(lines) {
		line := lines[start]
		if strings.HasPrefix(line, "Hash:") || strings.HasPrefix(line, "Comment:") {
			start++
			continue
		}
		break
	}
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	bodyLines := lines[start:]

	var out []string
	for _, l := range bodyLines {
		out = append(out, strings.TrimPrefix(l, "- "))
	}
	bodyText := strings.TrimSuffix(strings.Join(out, "\n"), "\n")

	sigEnd := endIdx + len(endSignature)
	sigText := strings.TrimSpace(text[sigIdx:sigEnd]) + "\n"

	return []byte(bodyText), []byte(sigText), true, nil
}

// wrapInline reassembles an InRelease document from a plain body and
// an already-produced armored signature block, dash-escaping any body
// line beginning with "-" per the cleartext signature framework.
func wrapInline(body []byte, sigArmor []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(beginSignedMessage)
	buf.WriteString("\nHash: SHA256\n\n")
	for _, line := range strings.Split(string(body), "\n") {
		if strings.HasPrefix(line, "-") {
			buf.WriteString("- ")
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	buf.Write(sigArmor)
	return buf.Bytes()
}

// extractSignatureBlock pulls the "-----BEGIN PGP SIGNATURE-----" ...
// "-----END PGP SIGNATURE-----" block out of a full clearsign.Encode
// result, for storing independently of the body it was produced for.
func extractSignatureBlock(full []byte) ([]byte, error) {
	text := string(full)
	idx := strings.Index(text, beginSignature)
	if idx < 0 {
		return nil, errors.New("release: clearsign output missing a SIGNATURE block")
	}
	return []byte(text[idx:]), nil
}
