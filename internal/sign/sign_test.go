package sign

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

func generateTestKey(t *testing.T) string {
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
	return buf.String()
}

func TestClearSignAndVerify(t *testing.T) {
	armoredKey := generateTestKey(t)
	kr, err := LoadPrivateKey(armoredKey, nil)
	if err != nil {
		t.Fatalf("LoadPrivateKey: %v", err)
	}
	defer kr.Close()

	content := []byte("Origin: debmirror\nCodename: test\n")
	signed, err := kr.ClearSign(content)
	if err != nil {
		t.Fatalf("ClearSign: %v", err)
	}
	if !strings.Contains(string(signed), "-----BEGIN PGP SIGNED MESSAGE-----") {
		t.Fatal("output does not look like a clearsigned message")
	}

	pub, err := kr.PublicKey(true)
	if err != nil {
		t.Fatalf("PublicKey: %v", err)
	}

	plaintext, err := VerifyClearSigned(signed, string(pub), "")
	if err != nil {
		t.Fatalf("VerifyClearSigned: %v", err)
	}
	if !bytes.Equal(bytes.TrimRight(plaintext, "\n"), bytes.TrimRight(content, "\n")) {
		t.Errorf("recovered plaintext = %q, want %q", plaintext, content)
	}
}

func TestDetachSignAndVerify(t *testing.T) {
	armoredKey := generateTestKey(t)
	kr, err := LoadPrivateKey(armoredKey, nil)
	if err != nil {
		t.Fatalf("LoadPrivateKey: %v", err)
	}
	defer kr.Close()

	content := []byte("Origin: debmirror\n")
	sig, err := kr.DetachSign(content)
	if err != nil {
		t.Fatalf("DetachSign: %v", err)
	}

	pub, err := kr.PublicKey(true)
	if err != nil {
		t.Fatalf("PublicKey: %v", err)
	}

	if err := VerifyDetached(content, sig, string(pub), ""); err != nil {
		t.Errorf("VerifyDetached: %v", err)
	}
	if err := VerifyDetached([]byte("tampered"), sig, string(pub), ""); err == nil {
		t.Error("expected verification failure for tampered content")
	}
}

func TestFingerprintMismatchRejected(t *testing.T) {
	armoredKey := generateTestKey(t)
	kr, err := LoadPrivateKey(armoredKey, nil)
	if err != nil {
		t.Fatalf("LoadPrivateKey: %v", err)
	}
	defer kr.Close()

	content := []byte("Origin: debmirror\n")
	sig, err := kr.DetachSign(content)
	if err != nil {
		t.Fatalf("DetachSign: %v", err)
	}
	pub, err := kr.PublicKey(true)
	if err != nil {
		t.Fatalf("PublicKey: %v", err)
	}

	err = VerifyDetached(content, sig, string(pub), "0000000000000000000000000000000000000000")
	if err == nil {
		t.Error("expected an error for a pinned fingerprint mismatch")
	}
}

func TestLoadPrivateKeyNoPrivateKey(t *testing.T) {
	armoredKey := generateTestKey(t)
	kr, err := LoadPrivateKey(armoredKey, nil)
	if err != nil {
		t.Fatalf("LoadPrivateKey: %v", err)
	}
	pub, err := kr.PublicKey(true)
	if err != nil {
		t.Fatalf("PublicKey: %v", err)
	}

	if _, err := LoadPrivateKey(string(pub), nil); err == nil {
		t.Error("expected an error loading a public-key-only armor block as a private key")
	}
}
