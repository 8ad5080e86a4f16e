package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadPEM_Inline(t *testing.T) {
	b, err := LoadPEM(testPrivateKeyPEM)
	if err != nil {
		t.Fatalf("LoadPEM: %v", err)
	}
	if !strings.Contains(string(b), "-----BEGIN") {
		t.Fatal("inline PEM not returned verbatim")
	}
}

func TestLoadPEM_LiteralNewlines(t *testing.T) {
	escaped := strings.ReplaceAll(testPublicKeyPEM, "\n", `\n`)
	b, err := LoadPEM(escaped)
	if err != nil {
		t.Fatalf("LoadPEM: %v", err)
	}
	if strings.Contains(string(b), `\n`) {
		t.Fatal("literal \\n sequences were not normalized")
	}
	if _, err := ParsePublicKey(string(b)); err != nil {
		t.Fatalf("ParsePublicKey after normalization: %v", err)
	}
}

func TestLoadPEM_FilePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.pem")
	if err := os.WriteFile(path, []byte(testPrivateKeyPEM), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := ParsePrivateKey(path); err != nil {
		t.Fatalf("ParsePrivateKey from file: %v", err)
	}
}

func TestLoadPEM_Empty(t *testing.T) {
	if _, err := LoadPEM(""); err != ErrInvalidKey {
		t.Fatalf("want ErrInvalidKey, got %v", err)
	}
}

func TestParsePrivateKey_Garbage(t *testing.T) {
	if _, err := ParsePrivateKey("-----BEGIN GARBAGE-----\nZm9v\n-----END GARBAGE-----"); err == nil {
		t.Fatal("garbage PEM accepted")
	}
}
