package playback

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/creatorpass/creatorpass/internal/metrics"
)

// RequestHook rewrites the URL of an outgoing engine sub-request.
type RequestHook func(rawURL string) string

// NewRequestHook returns the hook that appends auth to requests lacking it,
// or nil when there is nothing to append.
func NewRequestHook(auth string) RequestHook {
	if auth == "" {
		return nil
	}
	return func(rawURL string) string {
		return RewriteURL(rawURL, auth)
	}
}

// RewriteURL appends the Authorization parameter to rawURL unless auth is
// empty or rawURL already carries one. Manifest URLs keep the token they were
// signed with; segment URLs resolved relative to the manifest lose the query
// and get it back here. URLs that cannot be parsed are returned unchanged.
func RewriteURL(rawURL, auth string) string {
	if auth == "" {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if u.Query().Has(AuthParam) {
		return rawURL
	}

	param := AuthParam + "=" + url.QueryEscape(auth)
	if strings.TrimSpace(u.RawQuery) == "" {
		u.RawQuery = param
	} else {
		u.RawQuery += "&" + param
	}
	u.ForceQuery = false
	return u.String()
}

// HookTransport applies hook to every request passing through base.
type HookTransport struct {
	Base http.RoundTripper
	Hook RequestHook
}

// NewHookTransport wraps base; a nil hook leaves requests untouched.
func NewHookTransport(base http.RoundTripper, hook RequestHook) *HookTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &HookTransport{Base: base, Hook: hook}
}

func (t *HookTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Hook == nil {
		metrics.IncSubRequest(false)
		return t.Base.RoundTrip(req)
	}

	original := req.URL.String()
	rewritten := t.Hook(original)
	if rewritten == original {
		metrics.IncSubRequest(false)
		return t.Base.RoundTrip(req)
	}

	u, err := url.Parse(rewritten)
	if err != nil {
		metrics.IncSubRequest(false)
		return t.Base.RoundTrip(req)
	}
	// RoundTrippers must not modify the caller's request.
	clone := req.Clone(req.Context())
	clone.URL = u
	clone.Host = ""
	metrics.IncSubRequest(true)
	return t.Base.RoundTrip(clone)
}

// CloseIdleConnections forwards to the base transport when it supports it.
func (t *HookTransport) CloseIdleConnections() {
	type closeIdler interface{ CloseIdleConnections() }
	if ci, ok := t.Base.(closeIdler); ok {
		ci.CloseIdleConnections()
	}
}
