package relay

import (
	"context"

	"github.com/nbd-wtf/go-nostr"
)

// conn is the slice of a relay connection the pool relies on
type conn interface {
	Publish(ctx context.Context, evt nostr.Event) error
	QuerySync(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error)
	// Stream delivers events matching filter until ctx ends or the
	// connection drops, then closes the channel.
	Stream(ctx context.Context, filter nostr.Filter) (<-chan *nostr.Event, error)
	IsConnected() bool
	Close() error
}

type dialFunc func(ctx context.Context, url string) (conn, error)

// nostrConn adapts *nostr.Relay
type nostrConn struct {
	relay *nostr.Relay
}

func dialNostr(ctx context.Context, url string) (conn, error) {
	r, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return nil, err
	}
	return &nostrConn{relay: r}, nil
}

func (c *nostrConn) Publish(ctx context.Context, evt nostr.Event) error {
	return c.relay.Publish(ctx, evt)
}

func (c *nostrConn) QuerySync(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	return c.relay.QuerySync(ctx, filter)
}

func (c *nostrConn) Stream(ctx context.Context, filter nostr.Filter) (<-chan *nostr.Event, error) {
	sub, err := c.relay.Subscribe(ctx, nostr.Filters{filter})
	if err != nil {
		return nil, err
	}

	out := make(chan *nostr.Event)
	go func() {
		defer close(out)
		defer sub.Unsub()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.relay.Context().Done():
				return
			case evt, ok := <-sub.Events:
				if !ok {
					return
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (c *nostrConn) IsConnected() bool {
	return c.relay.IsConnected()
}

func (c *nostrConn) Close() error {
	return c.relay.Close()
}
