package storage

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestSignerSignedURLCoversDirectory(t *testing.T) {
	s := NewSigner("secret", time.Minute)
	signed := s.SignedURL("https://store.example/", "media/abc/master.m3u8")

	u, err := url.Parse(signed)
	if err != nil {
		t.Fatal(err)
	}
	if u.Path != "/file/media/abc/master.m3u8" {
		t.Errorf("path = %q", u.Path)
	}
	token := u.Query().Get("Authorization")
	if token == "" {
		t.Fatal("signed url has no Authorization parameter")
	}

	for _, key := range []string{"media/abc/master.m3u8", "media/abc/seg0.ts", "media/abc/high/seg1.ts"} {
		if err := s.Verify(key, token); err != nil {
			t.Errorf("Verify(%q) = %v", key, err)
		}
	}
	if err := s.Verify("media/other/seg0.ts", token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("other media err = %v, want ErrInvalidToken", err)
	}
}

func TestSignerRejectsTampering(t *testing.T) {
	s := NewSigner("secret", time.Minute)
	token := s.Token("media/abc/")

	tests := map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"wrong secret": NewSigner("other", time.Minute).Token("media/abc/"),
		"widened":      "bWVkaWEv" + token[strings.Index(token, "."):],
	}
	for name, tok := range tests {
		if err := s.Verify("media/abc/seg0.ts", tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: err = %v, want ErrInvalidToken", name, err)
		}
	}
}

func TestSignerRootKeyTokenCoversOnlyThatKey(t *testing.T) {
	s := NewSigner("secret", time.Minute)
	u, err := url.Parse(s.SignedURL("https://store.example", "master.m3u8"))
	if err != nil {
		t.Fatal(err)
	}
	token := u.Query().Get("Authorization")

	if err := s.Verify("master.m3u8", token); err != nil {
		t.Errorf("Verify(root key) = %v", err)
	}
	for _, key := range []string{"media/premium/seg0.ts", "other.m3u8"} {
		if err := s.Verify(key, token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Verify(%q) = %v, want ErrInvalidToken", key, err)
		}
	}
}

func TestSignerRejectsEmptyPrefix(t *testing.T) {
	s := NewSigner("secret", time.Minute)
	if err := s.Verify("media/premium/seg0.ts", s.Token("")); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestSignerRejectsNonCanonicalKeys(t *testing.T) {
	s := NewSigner("secret", time.Minute)
	token := s.Token("media/free/")
	for _, key := range []string{"media/free/../premium/seg0.ts", "media/free/./seg0.ts", "media/free//seg0.ts", "/media/free/seg0.ts"} {
		if err := s.Verify(key, token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Verify(%q) = %v, want ErrInvalidToken", key, err)
		}
	}
}

func TestValidKey(t *testing.T) {
	tests := map[string]bool{
		"media/abc/master.m3u8": true,
		"master.m3u8":           true,
		"media/abc/":            true,
		"":                      false,
		"/media/abc":            false,
		"media/../abc":          false,
		"..":                    false,
		"media/./abc":           false,
	}
	for key, want := range tests {
		if got := ValidKey(key); got != want {
			t.Errorf("ValidKey(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestSignerExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := NewSigner("secret", time.Minute)
	s.now = func() time.Time { return now }
	token := s.Token("media/abc/")

	now = now.Add(30 * time.Second)
	if err := s.Verify("media/abc/seg0.ts", token); err != nil {
		t.Errorf("within ttl: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if err := s.Verify("media/abc/seg0.ts", token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("after ttl: %v, want ErrTokenExpired", err)
	}
}

func TestDeriveSigningKey(t *testing.T) {
	a, err := DeriveSigningKey("jwt-secret")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := DeriveSigningKey("jwt-secret")
	c, _ := DeriveSigningKey("other-secret")
	if a != b {
		t.Error("derivation is not deterministic")
	}
	if a == c || a == "jwt-secret" {
		t.Error("derived key does not depend on the input as expected")
	}
	if len(a) != 64 {
		t.Errorf("key length = %d, want 64 hex chars", len(a))
	}
	if _, err := DeriveSigningKey(""); err == nil {
		t.Error("empty secret accepted")
	}
}
