package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ErrNoCredential is returned by components that cannot proceed without a bearer token.
var ErrNoCredential = errors.New("auth: no credential available")

// CredentialProvider hands out the caller's bearer token. Components receive
// one at construction instead of reading shared state.
type CredentialProvider interface {
	// Token returns the current bearer token, or false when none is stored.
	Token() (string, bool)
	// Clear drops the stored token, e.g. after the backend answered 401.
	Clear()
}

// StaticCredential holds a token in memory.
type StaticCredential struct {
	mu    sync.RWMutex
	token string
}

func NewStaticCredential(token string) *StaticCredential {
	return &StaticCredential{token: strings.TrimSpace(token)}
}

func (c *StaticCredential) Token() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token, c.token != ""
}

func (c *StaticCredential) Set(token string) {
	c.mu.Lock()
	c.token = strings.TrimSpace(token)
	c.mu.Unlock()
}

func (c *StaticCredential) Clear() {
	c.Set("")
}

// FileCredential reads the token from a file on every call so that a
// separate login flow can rotate it without restarting consumers.
type FileCredential struct {
	path string
}

func NewFileCredential(path string) *FileCredential {
	return &FileCredential{path: path}
}

func (c *FileCredential) Token() (string, bool) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return "", false
	}
	token := strings.TrimSpace(string(data))
	return token, token != ""
}

// Store writes token to the backing file with owner-only permissions.
func (c *FileCredential) Store(token string) error {
	if err := os.WriteFile(c.path, []byte(strings.TrimSpace(token)+"\n"), 0o600); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	return nil
}

func (c *FileCredential) Clear() {
	_ = os.Remove(c.path)
}
