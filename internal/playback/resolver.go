package playback

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/creatorpass/creatorpass/internal/apiclient"
	"github.com/creatorpass/creatorpass/internal/metrics"
)

const DefaultResolveTimeout = 10 * time.Second

// TokenAPI is the backend surface the resolver needs.
type TokenAPI interface {
	RequestPlaybackToken(ctx context.Context, mediaID string) (string, error)
	SecureURL(ctx context.Context, mediaID, token string) (string, error)
}

// Resolver turns a content identifier into a delivery descriptor.
type Resolver interface {
	Resolve(ctx context.Context, contentID string) (DeliveryDescriptor, error)
}

// CredentialResolver resolves playback in two sequential calls: a playback
// token for the content, then the signed delivery URL for that token. It
// never retries internally; each call issues a fresh token.
type CredentialResolver struct {
	api     TokenAPI
	timeout time.Duration
}

func NewCredentialResolver(api TokenAPI, timeout time.Duration) *CredentialResolver {
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}
	return &CredentialResolver{api: api, timeout: timeout}
}

func (r *CredentialResolver) Resolve(ctx context.Context, contentID string) (DeliveryDescriptor, error) {
	start := time.Now()
	desc, err := r.resolve(ctx, contentID)
	result := "ok"
	if err != nil {
		result = string(KindOf(err))
	}
	metrics.ObserveResolve(result, time.Since(start))
	return desc, err
}

func (r *CredentialResolver) resolve(ctx context.Context, contentID string) (DeliveryDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	token, err := r.api.RequestPlaybackToken(ctx, contentID)
	if err != nil {
		return DeliveryDescriptor{}, classify(ctx, "request token", err)
	}

	signedURL, err := r.api.SecureURL(ctx, contentID, token)
	if err != nil {
		return DeliveryDescriptor{}, classify(ctx, "resolve url", err)
	}

	desc := NewDeliveryDescriptor(signedURL)
	slog.Debug("playback: resolved delivery url", "media_id", contentID, "authorized", desc.HasAuthorization())
	return desc, nil
}

func classify(ctx context.Context, op string, err error) error {
	kind := KindNetwork
	switch {
	case errors.Is(err, apiclient.ErrAccessDenied):
		kind = KindAccessDenied
	case errors.Is(err, apiclient.ErrNotFound):
		kind = KindNotFound
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		kind = KindTimeout
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
