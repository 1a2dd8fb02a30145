// Package sign produces and verifies the OpenPGP signatures an APT
// archive attaches to its Release manifest: InRelease (inline
// cleartext) and Release.gpg (detached), plus fingerprint verification
// of an upstream's published key. Grounded on the clearsign/armor
// pattern in the teacher pack's archive-builder (signBytes,
// extractPublicKey), reimplemented against the maintained
// ProtonMail/go-crypto fork rather than the frozen golang.org/x/crypto
// one the same tool also carries.
package sign

import (
	"bytes"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
	"github.com/pkg/errors"
)

// Keyring wraps a set of OpenPGP entities loaded from an ASCII-armored
// private key, scoped to the lifetime of one signing operation. Callers
// must Close it so key material does not linger in memory longer than
// necessary.
type Keyring struct {
	entities openpgp.EntityList
	signer   *openpgp.Entity
}

// LoadPrivateKey parses an ASCII-armored private key (optionally
// passphrase-protected) and returns a Keyring scoped to the first
// entity carrying a usable private key.
func LoadPrivateKey(armoredKey string, passphrase []byte) (*Keyring, error) {
	entities, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armoredKey))
	if err != nil {
		return nil, errors.Wrap(err, "sign: read armored key ring")
	}

	var signer *openpgp.Entity
	for _, e := range entities {
		if e.PrivateKey == nil {
			continue
		}
		if e.PrivateKey.Encrypted {
			if len(passphrase) == 0 {
				return nil, errors.New("sign: private key is passphrase-protected, none supplied")
			}
			if err := e.PrivateKey.Decrypt(passphrase); err != nil {
				return nil, errors.Wrap(err, "sign: decrypt private key")
			}
		}
		signer = e
		break
	}
	if signer == nil {
		return nil, errors.New("sign: no private key found in key material")
	}
	return &Keyring{entities: entities, signer: signer}, nil
}

// Close wipes the decoded keyring reference so it becomes eligible for
// garbage collection as soon as the signing operation using it exits.
func (k *Keyring) Close() error {
	k.entities = nil
	k.signer = nil
	return nil
}

// Fingerprint returns the uppercase hex fingerprint of the signing
// key's primary key, or "" if the Keyring has been closed.
func (k *Keyring) Fingerprint() string {
	if k.signer == nil || k.signer.PrimaryKey == nil {
		return ""
	}
	return formatFingerprint(k.signer.PrimaryKey.Fingerprint[:])
}

func formatFingerprint(fp []byte) string {
	const hexDigits = "0123456789ABCDEF"
	out := make([]byte, 0, len(fp)*2)
	for _, b := range fp {
		out = append(out, hexDigits[b>>4], hexDigits[b&0xf])
	}
	return string(out)
}

// ClearSign wraps content in an inline cleartext OpenPGP signature,
// producing the bytes of an InRelease file.
func (k *Keyring) ClearSign(content []byte) ([]byte, error) {
	var out bytes.Buffer
	w, err := clearsign.Encode(&out, k.signer.PrivateKey, nil)
	if err != nil {
		return nil, errors.Wrap(err, "sign: clearsign encode")
	}
	if _, err := w.Write(content); err != nil {
		w.Close()
		return nil, errors.Wrap(err, "sign: clearsign write")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "sign: clearsign close")
	}
	return out.Bytes(), nil
}

// DetachSign produces an ASCII-armored detached signature of content,
// the bytes of a Release.gpg file.
func (k *Keyring) DetachSign(content []byte) ([]byte, error) {
	var out bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&out, k.signer, bytes.NewReader(content), nil); err != nil {
		return nil, errors.Wrap(err, "sign: detached sign")
	}
	return out.Bytes(), nil
}

// PublicKey returns the signer's public key, armored if armored is
// true, for publishing alongside the archive.
func (k *Keyring) PublicKey(armored bool) ([]byte, error) {
	var buf bytes.Buffer
	if !armored {
		if err := k.signer.Serialize(&buf); err != nil {
			return nil, errors.Wrap(err, "sign: serialize public key")
		}
		return buf.Bytes(), nil
	}
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return nil, errors.Wrap(err, "sign: armor encode")
	}
	if err := k.signer.Serialize(w); err != nil {
		w.Close()
		return nil, errors.Wrap(err, "sign: serialize public key")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "sign: close armor writer")
	}
	return buf.Bytes(), nil
}

// VerifyClearSigned checks an InRelease document's inline signature
// against an ASCII-armored public keyring, returning the verified
// cleartext content. expectedFingerprint, if non-empty, must match the
// signer's fingerprint or verification fails even if the signature
// itself checks out.
func VerifyClearSigned(inRelease []byte, armoredPubKey string, expectedFingerprint string) ([]byte, error) {
	keyring, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armoredPubKey))
	if err != nil {
		return nil, errors.Wrap(err, "sign: read armored public key ring")
	}

	block, _ := clearsign.Decode(inRelease)
	if block == nil {
		return nil, errors.New("sign: not a clearsigned message")
	}

	signer, err := openpgp.CheckDetachedSignature(keyring, bytes.NewReader(block.Bytes), block.ArmoredSignature.Body, nil)
	if err != nil {
		return nil, errors.Wrap(err, "sign: check inline signature")
	}
	if err := checkFingerprint(signer, expectedFingerprint); err != nil {
		return nil, err
	}
	return block.Plaintext, nil
}

// VerifyDetached checks content against an ASCII-armored detached
// signature and public keyring.
func VerifyDetached(content []byte, armoredSignature []byte, armoredPubKey string, expectedFingerprint string) error {
	keyring, err := openpgp.ReadArmoredKeyRing(strings.NewReader(armoredPubKey))
	if err != nil {
		return errors.Wrap(err, "sign: read armored public key ring")
	}
	signer, err := openpgp.CheckArmoredDetachedSignature(keyring, bytes.NewReader(content), bytes.NewReader(armoredSignature), nil)
	if err != nil {
		return errors.Wrap(err, "sign: check detached signature")
	}
	return checkFingerprint(signer, expectedFingerprint)
}

func checkFingerprint(signer *openpgp.Entity, expected string) error {
	if expected == "" {
		return nil
	}
	if signer == nil || signer.PrimaryKey == nil {
		return errors.New("sign: no signer key to check fingerprint against")
	}
	got := formatFingerprint(signer.PrimaryKey.Fingerprint[:])
	if !strings.EqualFold(got, expected) {
		return errors.Errorf("sign: signer fingerprint %s does not match pinned fingerprint %s", got, expected)
	}
	return nil
}
