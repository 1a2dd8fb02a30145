package control

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Emit writes doc to w in control-file wire format: fields in declared
// order, list fields joined with a single space unless the schema
// overrides the separator, checksum fields rendered as one indented
// "<hex> <size> <filename>" line per entry, and paragraphs separated by
// a blank line.
func Emit(w io.Writer, doc *Document, schema *Schema) error {
	bw := bufio.NewWriter(w)
	for i, p := range doc.Paragraphs {
		if i > 0 {
			if _, err := bw.WriteString("\n"); err != nil {
				return err
			}
		}
		if err := EmitParagraph(bw, p, schema); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// EmitParagraph writes a single paragraph's fields, in order, without a
// trailing blank-line separator.
func EmitParagraph(w io.Writer, p *Paragraph, schema *Schema) error {
	bw, ok := w.(*bufio.Writer)
	if !ok {
		bw = bufio.NewWriter(w)
		defer bw.Flush()
	}
	for _, f := range p.fields {
		if err := emitField(bw, f, schema); err != nil {
			return err
		}
	}
	return nil
}

func emitField(w *bufio.Writer, f Field, schema *Schema) error {
	switch f.Value.Kind {
	case ChecksumListValue:
		if _, err := fmt.Fprintf(w, "%s:\n", f.Name); err != nil {
			return err
		}
		for _, e := range f.Value.Checksums {
			if _, err := fmt.Fprintf(w, " %s %10d %s\n", e.Hash, e.Size, e.Filename); err != nil {
				return err
			}
		}
		return nil

	case ListValue:
		if schema.emptyKeyField(f.Name) {
			if _, err := fmt.Fprintf(w, "%s:\n", f.Name); err != nil {
				return err
			}
			for _, line := range f.Value.List {
				if line == "" {
					line = "."
				}
				if _, err := fmt.Fprintf(w, " %s\n", line); err != nil {
					return err
				}
			}
			return nil
		}
		_, err := fmt.Fprintf(w, "%s: %s\n", f.Name, strings.Join(f.Value.List, schema.separator()))
		return err

	default:
		_, err := fmt.Fprintf(w, "%s: %s\n", f.Name, f.Value.Scalar)
		return err
	}
}
