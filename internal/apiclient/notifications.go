package apiclient

import (
	"context"
	"net/http"
	"net/url"

	"github.com/creatorpass/creatorpass/internal/notify"
)

func (c *Client) Notifications(ctx context.Context) ([]notify.Event, error) {
	var out []notify.Event
	if err := c.do(ctx, "list notifications", http.MethodGet, "/notifications", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	return c.do(ctx, "mark notification read", http.MethodPost, "/notifications/"+url.PathEscape(id)+"/read", nil, nil, nil)
}
