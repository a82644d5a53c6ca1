// Package relay talks to Nostr relays: one subscription per relay with a
// reconnect policy, rate limited publishing and simple lookups.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var (
	// ErrNoRelays is returned when the pool has no relay configured
	ErrNoRelays = errors.New("no relays configured")
	// ErrNoRelayAccepted is returned when every relay rejected a publish
	ErrNoRelayAccepted = errors.New("no relay accepted the event")
)

// Options configures a Pool
type Options struct {
	Timeout           time.Duration
	PublishRatePerSec float64
	PublishBurst      int
	Reconnect         ReconnectPolicy
	// Lookback is how far before a dropped connection's end a resumed
	// subscription starts again
	Lookback time.Duration
}

// Pool manages connections to a fixed set of relays
type Pool struct {
	urls    []string
	opts    Options
	limiter *rate.Limiter
	dial    dialFunc
	now     func() time.Time

	mu    sync.Mutex
	conns map[string]conn
}

// NewPool creates a pool for the given relay URLs
func NewPool(urls []string, opts Options) *Pool {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.PublishRatePerSec <= 0 {
		opts.PublishRatePerSec = 2
	}
	if opts.PublishBurst <= 0 {
		opts.PublishBurst = 1
	}

	return &Pool{
		urls:    urls,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.PublishRatePerSec), opts.PublishBurst),
		dial:    dialNostr,
		now:     time.Now,
		conns:   make(map[string]conn),
	}
}

// URLs returns the configured relay URLs
func (p *Pool) URLs() []string {
	return p.urls
}

// connection returns a live cached connection or dials a new one
func (p *Pool) connection(ctx context.Context, url string) (conn, error) {
	p.mu.Lock()
	if c, ok := p.conns[url]; ok && c.IsConnected() {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	fresh, err := p.dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.conns[url]; ok {
		if existing.IsConnected() {
			fresh.Close()
			return existing, nil
		}
		existing.Close()
	}
	p.conns[url] = fresh
	return fresh, nil
}

// Publish sends the event to every relay and succeeds when at least one
// accepts it. It returns the number of accepting relays.
func (p *Pool) Publish(ctx context.Context, evt nostr.Event) (int, error) {
	if len(p.urls) == 0 {
		return 0, ErrNoRelays
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("publish rate limiter: %w", err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		errs     []error
	)
	for _, url := range p.urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
			defer cancel()

			err := p.publishTo(ctx, url, evt)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			accepted++
		}(url)
	}
	wg.Wait()

	if accepted == 0 {
		return 0, fmt.Errorf("%w: %w", ErrNoRelayAccepted, errors.Join(errs...))
	}
	for _, err := range errs {
		logrus.Debugf("Relay rejected event %s: %v", evt.ID, err)
	}
	return accepted, nil
}

func (p *Pool) publishTo(ctx context.Context, url string, evt nostr.Event) error {
	c, err := p.connection(ctx, url)
	if err != nil {
		return err
	}
	if err := c.Publish(ctx, evt); err != nil {
		return fmt.Errorf("%s: %w", url, err)
	}
	return nil
}

// query asks every relay and gathers the results. With firstHit set it
// returns as soon as any relay answers with at least one event.
func (p *Pool) query(ctx context.Context, filter nostr.Filter, firstHit bool) ([]*nostr.Event, error) {
	if len(p.urls) == 0 {
		return nil, ErrNoRelays
	}

	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	type result struct {
		events []*nostr.Event
		err    error
	}
	results := make(chan result, len(p.urls))
	for _, url := range p.urls {
		go func(url string) {
			c, err := p.connection(ctx, url)
			if err != nil {
				results <- result{err: err}
				return
			}
			events, err := c.QuerySync(ctx, filter)
			if err != nil {
				err = fmt.Errorf("%s: %w", url, err)
			}
			results <- result{events: events, err: err}
		}(url)
	}

	var (
		events []*nostr.Event
		errs   []error
	)
	for range p.urls {
		r := <-results
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		events = append(events, r.events...)
		if firstHit && len(events) > 0 {
			return events, nil
		}
	}

	if len(errs) == len(p.urls) {
		return nil, fmt.Errorf("every relay failed: %w", errors.Join(errs...))
	}
	return events, nil
}

// FetchByID looks up an event by id. A nil event with a nil error means no
// relay has it.
func (p *Pool) FetchByID(ctx context.Context, id string) (*nostr.Event, error) {
	events, err := p.query(ctx, nostr.Filter{IDs: []string{id}, Limit: 1}, true)
	if err != nil {
		return nil, err
	}
	for _, evt := range events {
		if evt != nil && evt.ID == id {
			return evt, nil
		}
	}
	return nil, nil
}

// Profile is the subset of kind-0 metadata the bot uses
type Profile struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// FetchProfile returns the newest kind-0 metadata of pubkey, or nil when
// none is found.
func (p *Pool) FetchProfile(ctx context.Context, pubkey string) (*Profile, error) {
	events, err := p.query(ctx, nostr.Filter{
		Kinds:   []int{nostr.KindProfileMetadata},
		Authors: []string{pubkey},
		Limit:   1,
	}, false)
	if err != nil {
		return nil, err
	}

	var newest *nostr.Event
	for _, evt := range events {
		if evt == nil || evt.PubKey != pubkey {
			continue
		}
		if newest == nil || evt.CreatedAt > newest.CreatedAt {
			newest = evt
		}
	}
	if newest == nil {
		return nil, nil
	}

	var profile Profile
	if err := json.Unmarshal([]byte(newest.Content), &profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile of %s: %w", pubkey, err)
	}
	return &profile, nil
}

// Close drops every cached connection
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for url, c := range p.conns {
		c.Close()
		delete(p.conns, url)
	}
}
