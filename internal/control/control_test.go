package control

import (
	"bytes"
	"strings"
	"testing"
)

func releaseSchema() *Schema {
	return &Schema{
		ListFields: map[string]bool{
			"architectures": true,
			"components":    true,
		},
		ChecksumFields: map[string]bool{
			"md5sum": true,
			"sha256": true,
		},
	}
}

func TestParseSingleParagraph(t *testing.T) {
	input := strings.Join([]string{
		"Origin: Debian",
		"Codename: bookworm",
		"Architectures: amd64 arm64 i386",
		"Components: main contrib",
		"",
	}, "\n")

	doc, err := Parse(strings.NewReader(input), releaseSchema())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	p, ok := doc.Single()
	if !ok {
		t.Fatalf("expected a singleton document, got %d paragraphs", len(doc.Paragraphs))
	}
	if got := p.GetScalar("Origin"); got != "Debian" {
		t.Errorf("Origin = %q, want Debian", got)
	}
	if got := p.GetList("Architectures"); !equalStrings(got, []string{"amd64", "arm64", "i386"}) {
		t.Errorf("Architectures = %v", got)
	}
}

func TestParseSequence(t *testing.T) {
	input := strings.Join([]string{
		"Package: a",
		"Version: 1.0",
		"",
		"Package: b",
		"Version: 2.0",
		"",
	}, "\n")

	doc, err := Parse(strings.NewReader(input), nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Paragraphs) != 2 {
		t.Fatalf("got %d paragraphs, want 2", len(doc.Paragraphs))
	}
	if doc.Paragraphs[0].GetScalar("Package") != "a" {
		t.Errorf("paragraph 0 Package = %q", doc.Paragraphs[0].GetScalar("Package"))
	}
	if doc.Paragraphs[1].GetScalar("Package") != "b" {
		t.Errorf("paragraph 1 Package = %q", doc.Paragraphs[1].GetScalar("Package"))
	}
}

func TestParseRepeatedKeyPromotesSequence(t *testing.T) {
	// No blank line between the two "Package:" stanzas: a repeated key
	// within what looked like one paragraph must still split it.
	input := strings.Join([]string{
		"Package: a",
		"Package: b",
		"",
	}, "\n")

	doc, err := Parse(strings.NewReader(input), nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Paragraphs) != 2 {
		t.Fatalf("got %d paragraphs, want 2 (repeated key should split)", len(doc.Paragraphs))
	}
}

func TestParseChecksumList(t *testing.T) {
	input := strings.Join([]string{
		"MD5Sum:",
		" d41d8cd98f00b204e9800998ecf8427e 0 main/binary-amd64/Packages",
		" aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa 123 main/binary-amd64/Packages.gz",
		"",
	}, "\n")

	doc, err := Parse(strings.NewReader(input), releaseSchema())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	p, _ := doc.Single()
	entries := p.GetChecksums("MD5Sum")
	if len(entries) != 2 {
		t.Fatalf("got %d checksum entries, want 2", len(entries))
	}
	if entries[0].Filename != "main/binary-amd64/Packages" || entries[0].Size != 0 {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[1].Size != 123 {
		t.Errorf("entry 1 size = %d, want 123", entries[1].Size)
	}
}

func TestParseRejectsSelfReferentialChecksum(t *testing.T) {
	input := "MD5Sum:\n deadbeef 10 Release\n\n"
	_, err := Parse(strings.NewReader(input), releaseSchema())
	if err == nil {
		t.Fatal("expected an error for a self-referential Release checksum entry")
	}
}

func TestParseContinuationWithoutKeyIsAnError(t *testing.T) {
	input := " leading continuation\nPackage: a\n\n"
	_, err := Parse(strings.NewReader(input), nil)
	if err == nil {
		t.Fatal("expected an error for a leading continuation line")
	}
	var fe *FormatError
	if !errorsAs(err, &fe) {
		t.Fatalf("expected *FormatError, got %T: %v", err, err)
	}
}

func TestRoundTripEmit(t *testing.T) {
	p := NewParagraph()
	p.SetScalar("Origin", "Debian")
	p.SetList("Architectures", []string{"amd64", "arm64"})
	p.Set("MD5Sum", Value{Kind: ChecksumListValue, Checksums: []ChecksumEntry{
		{Hash: "deadbeef", Size: 42, Filename: "main/binary-amd64/Packages"},
	}})

	var buf bytes.Buffer
	if err := Emit(&buf, &Document{Paragraphs: []*Paragraph{p}}, releaseSchema()); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	doc, err := Parse(strings.NewReader(buf.String()), releaseSchema())
	if err != nil {
		t.Fatalf("re-parsing emitted output: %v\n%s", err, buf.String())
	}
	got, ok := doc.Single()
	if !ok {
		t.Fatalf("expected singleton after round-trip, got %d paragraphs", len(doc.Paragraphs))
	}
	if got.GetScalar("Origin") != "Debian" {
		t.Errorf("round-tripped Origin = %q", got.GetScalar("Origin"))
	}
	if !equalStrings(got.GetList("Architectures"), []string{"amd64", "arm64"}) {
		t.Errorf("round-tripped Architectures = %v", got.GetList("Architectures"))
	}
	sums := got.GetChecksums("MD5Sum")
	if len(sums) != 1 || sums[0].Filename != "main/binary-amd64/Packages" {
		t.Errorf("round-tripped MD5Sum = %+v", sums)
	}
}

func TestParagraphDeleteAndClone(t *testing.T) {
	p := NewParagraph()
	p.SetScalar("A", "1")
	p.SetScalar("B", "2")
	clone := p.Clone()
	p.Delete("A")

	if p.Has("A") {
		t.Error("A should be deleted from the original")
	}
	if !clone.Has("A") {
		t.Error("clone should be unaffected by deleting from the original")
	}
	if got := p.GetScalar("B"); got != "2" {
		t.Errorf("B = %q after deleting A", got)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func errorsAs(err error, target **FormatError) bool {
	fe, ok := err.(*FormatError)
	if !ok {
		return false
	}
	*target = fe
	return true
}
