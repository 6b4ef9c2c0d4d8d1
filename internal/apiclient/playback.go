package apiclient

import (
	"context"
	"net/http"
	"net/url"
)

type playbackTokenRequest struct {
	MediaID string `json:"media_id"`
}

type playbackTokenResponse struct {
	Token string `json:"token"`
}

type secureURLResponse struct {
	URL string `json:"url"`
}

// RequestPlaybackToken asks for a short-lived token scoped to mediaID.
func (c *Client) RequestPlaybackToken(ctx context.Context, mediaID string) (string, error) {
	const op = "request playback token"
	var resp playbackTokenResponse
	if err := c.do(ctx, op, http.MethodPost, "/playback/token", nil, playbackTokenRequest{MediaID: mediaID}, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", &Error{Sentinel: ErrBadResponse, Operation: op, Body: "empty token"}
	}
	return resp.Token, nil
}

// SecureURL exchanges a playback token for the storage-signed delivery URL.
// It asks for the non-redirecting form so the signed URL is returned as a
// payload field instead of a Location header.
func (c *Client) SecureURL(ctx context.Context, mediaID, token string) (string, error) {
	const op = "resolve secure url"
	query := url.Values{}
	query.Set("token", token)
	query.Set("noredirect", "true")

	var resp secureURLResponse
	if err := c.do(ctx, op, http.MethodGet, "/playback/secure/"+url.PathEscape(mediaID), query, nil, &resp); err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", &Error{Sentinel: ErrBadResponse, Operation: op, Body: "empty url"}
	}
	return resp.URL, nil
}
