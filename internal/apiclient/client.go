package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/creatorpass/creatorpass/internal/auth"
)

const maxErrorBodyBytes = 512

// Client talks to the REST backend. Every request carries the bearer token
// from the injected credential provider when one is stored.
type Client struct {
	baseURL string
	creds   auth.CredentialProvider
	http    *http.Client
	stream  *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the client used for regular REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithStreamClient replaces the client used for long-lived streams. It must
// not carry a Timeout, since that would cut the stream.
func WithStreamClient(hc *http.Client) Option {
	return func(c *Client) { c.stream = hc }
}

func New(baseURL string, creds auth.CredentialProvider, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		http:    &http.Client{Timeout: 30 * time.Second},
		stream:  &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.creds != nil {
		if token, ok := c.creds.Token(); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}

// do sends the request and decodes a JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return &Error{Sentinel: ErrBadResponse, Operation: op, Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Sentinel: ErrUnavailable, Operation: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.checkStatus(op, resp); err != nil {
		return err
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Sentinel: ErrBadResponse, Operation: op, Status: resp.StatusCode, Err: err}
	}
	return nil
}

func (c *Client) checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	sentinel := sentinelForStatus(resp.StatusCode)
	if sentinel == ErrUnauthorized && c.creds != nil {
		slog.Warn("api: credential rejected, clearing stored token", "operation", op)
		c.creds.Clear()
	}
	return &Error{
		Sentinel:  sentinel,
		Operation: op,
		Status:    resp.StatusCode,
		Body:      strings.TrimSpace(string(respBytes)),
	}
}

// OpenStream issues a long-lived GET and returns the response with an unread
// body. The caller owns the body. Cancelling ctx aborts any pending read.
func (c *Client) OpenStream(ctx context.Context, path string) (*http.Response, error) {
	const op = "open stream"
	if c.creds != nil {
		if _, ok := c.creds.Token(); !ok {
			return nil, auth.ErrNoCredential
		}
	}

	req, err := c.newRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, &Error{Sentinel: ErrBadResponse, Operation: op, Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, &Error{Sentinel: ErrUnavailable, Operation: op, Err: err}
	}
	if err := c.checkStatus(op, resp); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	return resp, nil
}
