package auth

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStaticCredential(t *testing.T) {
	c := NewStaticCredential("  abc  ")

	token, ok := c.Token()
	if !ok || token != "abc" {
		t.Fatalf("expected trimmed token abc, got %q (ok=%v)", token, ok)
	}

	c.Clear()
	if _, ok := c.Token(); ok {
		t.Error("expected no token after Clear")
	}
}

func TestStaticCredential_EmptyIsAbsent(t *testing.T) {
	if _, ok := NewStaticCredential("").Token(); ok {
		t.Error("expected empty token to be reported as absent")
	}
}

func TestFileCredential_StoreReadClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	c := NewFileCredential(path)

	if _, ok := c.Token(); ok {
		t.Fatal("expected no token before Store")
	}

	if err := c.Store("secret-token"); err != nil {
		t.Fatalf("store: %v", err)
	}

	token, ok := c.Token()
	if !ok || token != "secret-token" {
		t.Fatalf("expected secret-token, got %q (ok=%v)", token, ok)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("expected mode 0600, got %v", info.Mode().Perm())
	}

	c.Clear()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected token file removed, stat err = %v", err)
	}
}
