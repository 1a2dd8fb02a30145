// Package hash computes the multi-algorithm digests the mirror uses to
// verify fetched files against a Release manifest's checksum tables.
package hash

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"io"

	"github.com/pkg/errors"
)

// Algo names one of the checksum algorithms a Debian archive publishes.
type Algo string

const (
	MD5    Algo = "MD5Sum"
	SHA1   Algo = "SHA1"
	SHA256 Algo = "SHA256"
	SHA512 Algo = "SHA512"
)

// All is the complete, preferred-first set of algorithms understood by
// this package.
var All = []Algo{SHA512, SHA256, SHA1, MD5}

func newHasher(a Algo) (hash.Hash, error) {
	switch a {
	case MD5:
		return md5.New(), nil
	case SHA1:
		return sha1.New(), nil
	case SHA256:
		return sha256.New(), nil
	case SHA512:
		return sha512.New(), nil
	default:
		return nil, errors.Errorf("hash: unknown algorithm %q", a)
	}
}

// Digests maps each requested algorithm to its lowercase-hex digest.
type Digests map[Algo]string

// Sum streams r through every hasher in algos simultaneously via
// io.MultiWriter, so every digest comes from a single pass over r, and
// returns the digests with the number of bytes read.
func Sum(r io.Reader, algos []Algo) (Digests, int64, error) {
	hashers := make(map[Algo]hash.Hash, len(algos))
	writers := make([]io.Writer, 0, len(algos))
	for _, a := range algos {
		h, err := newHasher(a)
		if err != nil {
			return nil, 0, err
		}
		hashers[a] = h
		writers = append(writers, h)
	}

	n, err := io.Copy(io.MultiWriter(writers...), r)
	if err != nil {
		return nil, 0, errors.Wrap(err, "hash: copy")
	}

	out := make(Digests, len(hashers))
	for a, h := range hashers {
		out[a] = hex.EncodeToString(h.Sum(nil))
	}
	return out, n, nil
}

// Verify returns an error if, for any (algo, want) pair in expected,
// digests holds a different value for algo. Algorithms absent from
// digests are skipped, and a file with no expected digests passes
// vacuously — the caller decides whether that is acceptable.
func Verify(digests Digests, expected map[Algo]string) error {
	for algo, want := range expected {
		got, ok := digests[algo]
		if !ok {
			continue // this digest wasn't computed; nothing to compare
		}
		if got != want {
			return errors.Errorf("hash: %s mismatch: want %s, got %s", algo, want, got)
		}
	}
	return nil
}

// StrongestCommon returns the strongest algorithm present in both sets,
// preferring SHA512 over SHA256 over SHA1 over MD5.
func StrongestCommon(a, b map[Algo]string) (Algo, bool) {
	for _, algo := range All {
		_, inA := a[algo]
		_, inB := b[algo]
		if inA && inB {
			return algo, true
		}
	}
	return "", false
}
