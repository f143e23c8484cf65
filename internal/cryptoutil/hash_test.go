package cryptoutil

import (
	"strings"
	"testing"
)

// SecretEqual

func TestSecretEqual_Match(t *testing.T) {
	if !SecretEqual("hunter2", "hunter2") {
		t.Fatal("identical secrets should match")
	}
}

func TestSecretEqual_Mismatch(t *testing.T) {
	if SecretEqual("hunter2", "hunter3") {
		t.Fatal("different secrets should not match")
	}
}

func TestSecretEqual_DifferentLengths(t *testing.T) {
	if SecretEqual("short", "a-much-longer-secret") {
		t.Fatal("secrets of different length should not match")
	}
}

func TestSecretEqual_EmptyAgainstEmpty(t *testing.T) {
	// callers must reject an empty configured secret themselves
	if !SecretEqual("", "") {
		t.Fatal("empty strings hash identically")
	}
}

func TestSecretEqual_CaseSensitive(t *testing.T) {
	if SecretEqual("Secret", "secret") {
		t.Fatal("comparison must be case sensitive")
	}
}

// SHA256Hex

func TestSHA256Hex_KnownVector(t *testing.T) {
	// SHA-256 of empty string is a well-known constant
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := SHA256Hex([]byte{}); got != want {
		t.Fatalf("SHA256Hex(empty) = %q, want %q", got, want)
	}
}

func TestSHA256Hex_LengthAndCase(t *testing.T) {
	got := SHA256Hex([]byte("zip bytes"))
	if len(got) != 64 {
		t.Fatalf("SHA256Hex length = %d, want 64", len(got))
	}
	if got != strings.ToLower(got) {
		t.Fatal("SHA256Hex should return lowercase hex")
	}
}

// ShortHash

func TestShortHash(t *testing.T) {
	if got := ShortHash("abc"); got != "abc" {
		t.Fatalf("ShortHash(short) = %q", got)
	}
	full := SHA256Hex([]byte("x"))
	if got := ShortHash(full); got != full[:12] {
		t.Fatalf("ShortHash = %q, want %q", got, full[:12])
	}
}
