package relay

import (
	"context"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sirupsen/logrus"
)

// State of one relay inside a subscription
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateGaveUp       State = "gave_up"
)

// StateChange is emitted whenever a relay changes state
type StateChange struct {
	URL   string
	State State
	Err   error
	At    time.Time
}

// ReconnectPolicy bounds the exponential backoff between connection attempts
type ReconnectPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// Delay returns the wait before the given consecutive failed attempt (1-based)
func (r ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := r.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= r.MaxDelay {
			return r.MaxDelay
		}
	}
	return min(delay, r.MaxDelay)
}

const seenCapacity = 4096

// Subscription fans events from every relay into one channel
type Subscription struct {
	events chan *nostr.Event
	states chan StateChange
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	seen     map[string]struct{}
	seenRing []string
	seenNext int
	current  map[string]State
}

// Subscribe opens a subscription on every relay of the pool. Each relay is
// driven by its own goroutine that reconnects with backoff until it gives
// up or the subscription is closed.
func (p *Pool) Subscribe(ctx context.Context, filter nostr.Filter) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		events:   make(chan *nostr.Event, 64),
		states:   make(chan StateChange, 64),
		cancel:   cancel,
		seen:     make(map[string]struct{}),
		seenRing: make([]string, seenCapacity),
		current:  make(map[string]State),
	}

	for _, url := range p.urls {
		sub.wg.Add(1)
		go func(url string) {
			defer sub.wg.Done()
			p.runRelay(ctx, sub, url, filter)
		}(url)
	}

	go func() {
		sub.wg.Wait()
		close(sub.events)
		close(sub.states)
	}()

	return sub
}

// runRelay keeps one relay subscribed. A connection only resets the failure
// count once it proved useful: it delivered an event or stayed up for at
// least MaxDelay. After a drop the filter's Since moves up to the drop time
// minus Lookback so a reconnect does not replay the whole startup window.
func (p *Pool) runRelay(ctx context.Context, sub *Subscription, url string, filter nostr.Filter) {
	policy := p.opts.Reconnect
	failures := 0
	var lastDrop time.Time

	for {
		sub.setState(url, StateConnecting, nil)

		c, err := p.dial(ctx, url)
		var stream <-chan *nostr.Event
		if err == nil {
			stream, err = c.Stream(ctx, p.resumeFilter(filter, lastDrop))
			if err != nil {
				c.Close()
			}
		}

		if err == nil {
			sub.setState(url, StateConnected, nil)
			connectedAt := p.now()
			delivered := 0
			for evt := range stream {
				sub.deliver(ctx, evt)
				delivered++
			}
			c.Close()
			lastDrop = p.now()
			if delivered > 0 || lastDrop.Sub(connectedAt) >= policy.MaxDelay {
				failures = 0
			}
		}

		if ctx.Err() != nil {
			return
		}

		failures++
		sub.setState(url, StateDisconnected, err)
		if policy.MaxAttempts > 0 && failures >= policy.MaxAttempts {
			sub.setState(url, StateGaveUp, err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(policy.Delay(failures)):
		}
	}
}

// resumeFilter returns the filter for the next connection attempt
func (p *Pool) resumeFilter(filter nostr.Filter, lastDrop time.Time) nostr.Filter {
	if lastDrop.IsZero() {
		return filter
	}
	since := nostr.Timestamp(lastDrop.Add(-p.opts.Lookback).Unix())
	if filter.Since != nil && *filter.Since >= since {
		return filter
	}
	filter.Since = &since
	return filter
}

// deliver forwards an event unless another relay already delivered it
func (s *Subscription) deliver(ctx context.Context, evt *nostr.Event) {
	if evt == nil {
		return
	}

	s.mu.Lock()
	if _, dup := s.seen[evt.ID]; dup {
		s.mu.Unlock()
		return
	}
	if old := s.seenRing[s.seenNext]; old != "" {
		delete(s.seen, old)
	}
	s.seenRing[s.seenNext] = evt.ID
	s.seenNext = (s.seenNext + 1) % len(s.seenRing)
	s.seen[evt.ID] = struct{}{}
	s.mu.Unlock()

	select {
	case s.events <- evt:
	case <-ctx.Done():
	}
}

func (s *Subscription) setState(url string, state State, err error) {
	s.mu.Lock()
	s.current[url] = state
	s.mu.Unlock()

	entry := logrus.WithFields(logrus.Fields{"relay": url, "state": state})
	switch {
	case state == StateGaveUp:
		entry.Errorf("Giving up on relay: %v", err)
	case err != nil:
		entry.Warnf("Relay connection failed: %v", err)
	default:
		entry.Debug("Relay state changed")
	}

	select {
	case s.states <- StateChange{URL: url, State: state, Err: err, At: time.Now()}:
	default:
		// nobody is reading states
	}
}

// Events delivers deduplicated events from every relay. It is closed once
// every relay has given up or the subscription is closed.
func (s *Subscription) Events() <-chan *nostr.Event {
	return s.events
}

// States delivers relay state changes on a best-effort basis
func (s *Subscription) States() <-chan StateChange {
	return s.states
}

// Status returns the current state of every relay
func (s *Subscription) Status() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]State, len(s.current))
	for url, state := range s.current {
		out[url] = state
	}
	return out
}

// Close cancels every relay goroutine
func (s *Subscription) Close() {
	s.cancel()
}
