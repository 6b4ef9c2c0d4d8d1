package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrInvalidToken = errors.New("storage: invalid download authorization")
	ErrTokenExpired = errors.New("storage: download authorization expired")
)

const DefaultSignedURLTTL = time.Hour

// Signer issues download authorizations scoped to a key prefix, the way B2
// download tokens work: one token covers a manifest and every segment stored
// next to it or below it.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = DefaultSignedURLTTL
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// ValidKey reports whether key is a canonical relative object key: non-empty,
// no leading slash and no "." or ".." segments.
func ValidKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") {
		return false
	}
	return path.Clean("/" + key)[1:] == strings.TrimSuffix(key, "/")
}

// Token authorizes every key starting with prefix until the TTL elapses. An
// empty prefix is never accepted by Verify.
func (s *Signer) Token(prefix string) string {
	expiry := strconv.FormatInt(s.now().Add(s.ttl).Unix(), 10)
	encoded := base64.RawURLEncoding.EncodeToString([]byte(prefix))
	return encoded + "." + expiry + "." + s.sign(prefix, expiry)
}

// SignedURL returns the file route URL for key below baseURL, carrying a
// token for the key's directory in the Authorization query parameter. A key
// at the bucket root gets a token for that key alone.
func (s *Signer) SignedURL(baseURL, key string) string {
	prefix := key
	if dir := path.Dir(key); dir != "." && dir != "/" {
		prefix = dir + "/"
	}
	u := strings.TrimRight(baseURL, "/") + "/file/" + (&url.URL{Path: key}).EscapedPath()
	return u + "?Authorization=" + url.QueryEscape(s.Token(prefix))
}

// Verify checks that token authorizes key.
func (s *Signer) Verify(key, token string) error {
	if !ValidKey(key) {
		return ErrInvalidToken
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return ErrInvalidToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return ErrInvalidToken
	}
	prefix := string(raw)
	if prefix == "" {
		return ErrInvalidToken
	}
	if !hmac.Equal([]byte(parts[2]), []byte(s.sign(prefix, parts[1]))) {
		return ErrInvalidToken
	}
	if !strings.HasPrefix(key, prefix) {
		return ErrInvalidToken
	}
	expiry, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return ErrInvalidToken
	}
	if s.now().Unix() > expiry {
		return ErrTokenExpired
	}
	return nil
}

func (s *Signer) sign(prefix, expiry string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(prefix))
	mac.Write([]byte{0})
	mac.Write([]byte(expiry))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// DeriveSigningKey derives a download-signing secret from another secret so
// one configured value does not sign both API tokens and storage URLs.
func DeriveSigningKey(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("storage: empty secret")
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("creatorpass download authorization"))
	if _, err := io.ReadFull(r, key); err != nil {
		return "", fmt.Errorf("derive signing key: %w", err)
	}
	return hex.EncodeToString(key), nil
}
