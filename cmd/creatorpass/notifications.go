package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/creatorpass/creatorpass/internal/notify"
)

func runNotifications(ctx context.Context, args []string) error {
	markRead := ""
	switch {
	case len(args) == 0:
	case len(args) == 2 && args[0] == "read" && args[1] != "":
		markRead = args[1]
	default:
		return errUsage
	}

	feed := notify.NewFeed(newAPIClient())
	if err := feed.Load(ctx); err != nil {
		return err
	}
	if markRead != "" {
		if err := feed.MarkRead(ctx, markRead); err != nil {
			return err
		}
	}

	for _, ev := range feed.Items() {
		printEvent(ev)
	}
	fmt.Printf("%d unread\n", feed.UnreadCount())
	return nil
}

// runWatch loads the snapshot and then follows the stream, printing every
// new notification until interrupted.
func runWatch(ctx context.Context, args []string) error {
	if len(args) != 0 {
		return errUsage
	}

	client := newAPIClient()
	feed := notify.NewFeed(client, notify.WithNewEventHook(printEvent))
	if err := feed.Load(ctx); err != nil {
		slog.Warn("creatorpass: snapshot unavailable", "error", err)
	}
	fmt.Printf("%d unread\n", feed.UnreadCount())

	stream := notify.NewStreamClient(client,
		notify.WithReconnectDelay(getEnvDuration("CREATORPASS_RECONNECT_DELAY", notify.DefaultReconnectDelay)),
		notify.WithStateHook(func(state notify.StreamState) {
			slog.Info("creatorpass: stream state", "state", state)
		}),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return stream.Run(ctx, func(ev notify.Event) { feed.Add(ev) })
	})
	g.Go(func() error {
		return serveMetrics(ctx)
	})
	return g.Wait()
}

func printEvent(ev notify.Event) {
	marker := "*"
	if ev.IsRead {
		marker = " "
	}
	when := ""
	if t, ok := ev.Created(); ok {
		when = t.Local().Format(time.DateTime) + "  "
	}
	if ev.Message != "" {
		fmt.Printf("%s %s%s: %s [%s]\n", marker, when, ev.Title, ev.Message, ev.ID)
		return
	}
	fmt.Printf("%s %s%s [%s]\n", marker, when, ev.Title, ev.ID)
}
