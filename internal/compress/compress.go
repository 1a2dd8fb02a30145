// Package compress dispatches to the right (de)compressor for a
// Packages/Release sibling file's extension. Plain gzip is handled by
// the standard library; xz and bzip2 are not — compress/bzip2 only
// reads, and the standard library has no xz support at all — so both
// reach into the ecosystem.
package compress

import (
	"compress/gzip"
	"io"
	"path/filepath"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// Codec names one of the compression formats a Packages/Release sibling
// file may be published under.
type Codec string

const (
	Plain Codec = ""
	Gzip  Codec = "gz"
	XZ    Codec = "xz"
	BZip2 Codec = "bz2"
	LZMA  Codec = "lzma"
)

// Codecs is the set of codecs this mirror will probe for and re-emit,
// in descending order of how commonly archives publish them.
var Codecs = []Codec{Gzip, XZ, BZip2, LZMA, Plain}

// ForExtension maps a filename's extension to its Codec, e.g.
// "Packages.gz" -> Gzip, "Packages" -> Plain.
func ForExtension(name string) Codec {
	switch strings.TrimPrefix(filepath.Ext(name), ".") {
	case "gz":
		return Gzip
	case "xz":
		return XZ
	case "bz2":
		return BZip2
	case "lzma":
		return LZMA
	default:
		return Plain
	}
}

// Suffix returns the filename suffix (including the dot, empty for
// Plain) associated with a codec.
func (c Codec) Suffix() string {
	if c == Plain {
		return ""
	}
	return "." + string(c)
}

// NewReader wraps r with the decompressor for c. The caller must Close
// the returned ReadCloser (Plain returns r wrapped in a no-op closer).
func NewReader(c Codec, r io.Reader) (io.ReadCloser, error) {
	switch c {
	case Plain:
		return io.NopCloser(r), nil
	case Gzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "compress: gzip reader")
		}
		return gz, nil
	case XZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "compress: xz reader")
		}
		return io.NopCloser(xr), nil
	case BZip2:
		br, err := bzip2.NewReader(r, nil)
		if err != nil {
			return nil, errors.Wrap(err, "compress: bzip2 reader")
		}
		return br, nil
	case LZMA:
		lr, err := lzma.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "compress: lzma reader")
		}
		return io.NopCloser(lr), nil
	default:
		return nil, errors.Errorf("compress: unknown codec %q", c)
	}
}

// NewWriter wraps w with the compressor for c. The caller must Close
// the returned WriteCloser to flush trailers (Plain returns w wrapped
// in a no-op closer).
func NewWriter(c Codec, w io.Writer) (io.WriteCloser, error) {
	switch c {
	case Plain:
		return nopWriteCloser{w}, nil
	case Gzip:
		return gzip.NewWriter(w), nil
	case XZ:
		xw, err := xz.NewWriter(w)
		if err != nil {
			return nil, errors.Wrap(err, "compress: xz writer")
		}
		return xw, nil
	case BZip2:
		bw, err := bzip2.NewWriter(w, nil)
		if err != nil {
			return nil, errors.Wrap(err, "compress: bzip2 writer")
		}
		return bw, nil
	case LZMA:
		lw, err := lzma.NewWriter(w)
		if err != nil {
			return nil, errors.Wrap(err, "compress: lzma writer")
		}
		return lw, nil
	default:
		return nil, errors.Errorf("compress: unknown codec %q", c)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// DecompressAll reads all of r (compressed under c) and returns the
// decompressed bytes.
func DecompressAll(c Codec, r io.Reader) ([]byte, error) {
	rc, err := NewReader(c, r)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
