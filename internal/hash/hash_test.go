package hash

import (
	"strings"
	"testing"
)

func TestSumKnownVectors(t *testing.T) {
	digests, n, err := Sum(strings.NewReader("hello"), []Algo{MD5, SHA1, SHA256})
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	if n != 5 {
		t.Errorf("n = %d, want 5", n)
	}
	want := Digests{
		MD5:    "5d41402abc4b2a76b9719d911017c592",
		SHA1:   "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d",
		SHA256: "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
	}
	for algo, want := range want {
		if got := digests[algo]; got != want {
			t.Errorf("%s = %s, want %s", algo, got, want)
		}
	}
}

func TestVerify(t *testing.T) {
	digests := Digests{SHA256: "abc123"}
	if err := Verify(digests, map[Algo]string{SHA256: "abc123"}); err != nil {
		t.Errorf("expected match, got %v", err)
	}
	if err := Verify(digests, map[Algo]string{SHA256: "wrong"}); err == nil {
		t.Error("expected mismatch error")
	}
	// An algorithm absent from digests is not a failure: the caller may
	// not have requested it.
	if err := Verify(digests, map[Algo]string{MD5: "whatever"}); err != nil {
		t.Errorf("absent algorithm should not fail verification, got %v", err)
	}
}

func TestStrongestCommon(t *testing.T) {
	a := map[Algo]string{MD5: "x", SHA256: "y"}
	b := map[Algo]string{MD5: "x", SHA1: "z"}
	algo, ok := StrongestCommon(a, b)
	if !ok || algo != MD5 {
		t.Errorf("StrongestCommon = %v, %v, want MD5, true", algo, ok)
	}
}
