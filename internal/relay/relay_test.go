package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	publishErr error
	queryErr   error
	events     []*nostr.Event
	stream     []*nostr.Event

	mu        sync.Mutex
	published []nostr.Event
	filters   []nostr.Filter
	closed    bool
}

func (f *fakeConn) Publish(ctx context.Context, evt nostr.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, evt)
	return nil
}

func (f *fakeConn) QuerySync(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	var out []*nostr.Event
	for _, evt := range f.events {
		if filter.Matches(evt) {
			out = append(out, evt)
		}
	}
	return out, nil
}

func (f *fakeConn) Stream(ctx context.Context, filter nostr.Filter) (<-chan *nostr.Event, error) {
	f.mu.Lock()
	f.filters = append(f.filters, filter)
	f.mu.Unlock()

	out := make(chan *nostr.Event)
	go func() {
		defer close(out)
		for _, evt := range f.stream {
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (f *fakeConn) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func newTestPool(conns map[string]*fakeConn) *Pool {
	urls := make([]string, 0, len(conns))
	for url := range conns {
		urls = append(urls, url)
	}
	p := NewPool(urls, Options{Timeout: time.Second, PublishRatePerSec: 1000, PublishBurst: 100})
	p.dial = func(ctx context.Context, url string) (conn, error) {
		c, ok := conns[url]
		if !ok || c == nil {
			return nil, fmt.Errorf("dial %s: connection refused", url)
		}
		return c, nil
	}
	return p
}

func TestNewSigner(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)
	nsec, err := nip19.EncodePrivateKey(sk)
	require.NoError(t, err)

	for _, raw := range []string{sk, nsec, "  " + nsec + "\n"} {
		signer, err := NewSigner(raw)
		require.NoError(t, err)
		assert.Equal(t, pk, signer.PublicKey())
		assert.Contains(t, signer.NPub(), "npub1")
	}

	for _, raw := range []string{"", "nsec1invalid", "zz" + sk[2:], sk[:10]} {
		_, err := NewSigner(raw)
		assert.Error(t, err, raw)
	}
}

func TestSigner_Sign(t *testing.T) {
	signer, err := NewSigner(nostr.GeneratePrivateKey())
	require.NoError(t, err)

	evt := nostr.Event{Kind: nostr.KindTextNote, CreatedAt: nostr.Now(), Tags: nostr.Tags{}, Content: "gm"}
	require.NoError(t, signer.Sign(&evt))

	assert.Equal(t, signer.PublicKey(), evt.PubKey)
	assert.NotEmpty(t, evt.ID)
	ok, err := evt.CheckSignature()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPool_Publish(t *testing.T) {
	evt := nostr.Event{ID: "abc", Kind: nostr.KindTextNote}

	t.Run("At least one relay accepts", func(t *testing.T) {
		good := &fakeConn{}
		p := newTestPool(map[string]*fakeConn{
			"wss://good":        good,
			"wss://rejects":     {publishErr: errors.New("blocked")},
			"wss://unreachable": nil,
		})

		n, err := p.Publish(context.Background(), evt)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Len(t, good.published, 1)
	})

	t.Run("No relay accepts", func(t *testing.T) {
		p := newTestPool(map[string]*fakeConn{
			"wss://rejects":     {publishErr: errors.New("blocked")},
			"wss://unreachable": nil,
		})

		_, err := p.Publish(context.Background(), evt)
		assert.ErrorIs(t, err, ErrNoRelayAccepted)
	})

	t.Run("No relays configured", func(t *testing.T) {
		p := NewPool(nil, Options{})
		_, err := p.Publish(context.Background(), evt)
		assert.ErrorIs(t, err, ErrNoRelays)
	})

	t.Run("Limiter honours context", func(t *testing.T) {
		p := newTestPool(map[string]*fakeConn{"wss://good": {}})
		p.limiter.SetBurst(0)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := p.Publish(ctx, evt)
		assert.Error(t, err)
	})
}

func TestPool_ReusesConnections(t *testing.T) {
	var dials atomic.Int32
	c := &fakeConn{}
	p := NewPool([]string{"wss://one"}, Options{PublishRatePerSec: 1000, PublishBurst: 10})
	p.dial = func(ctx context.Context, url string) (conn, error) {
		dials.Add(1)
		return c, nil
	}

	for i := 0; i < 3; i++ {
		_, err := p.Publish(context.Background(), nostr.Event{ID: fmt.Sprint(i)})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), dials.Load())

	p.Close()
	assert.False(t, c.IsConnected())
}

func TestPool_FetchByID(t *testing.T) {
	target := &nostr.Event{ID: "target", PubKey: "author", Kind: nostr.KindTextNote}
	p := newTestPool(map[string]*fakeConn{
		"wss://empty":  {},
		"wss://broken": {queryErr: errors.New("timeout")},
		"wss://has":    {events: []*nostr.Event{target}},
	})

	evt, err := p.FetchByID(context.Background(), "target")
	require.NoError(t, err)
	require.NotNil(t, evt)
	assert.Equal(t, "target", evt.ID)

	evt, err = p.FetchByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, evt)

	broken := newTestPool(map[string]*fakeConn{"wss://broken": {queryErr: errors.New("timeout")}})
	_, err = broken.FetchByID(context.Background(), "target")
	assert.Error(t, err)
}

func TestPool_FetchProfile(t *testing.T) {
	older := &nostr.Event{ID: "p1", PubKey: "alice", Kind: nostr.KindProfileMetadata, CreatedAt: 100,
		Content: `{"name":"old"}`}
	newer := &nostr.Event{ID: "p2", PubKey: "alice", Kind: nostr.KindProfileMetadata, CreatedAt: 200,
		Content: `{"name":"alice","display_name":"Alice 🚀"}`}
	p := newTestPool(map[string]*fakeConn{
		"wss://a": {events: []*nostr.Event{older}},
		"wss://b": {events: []*nostr.Event{newer}},
	})

	profile, err := p.FetchProfile(context.Background(), "alice")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "Alice 🚀", profile.DisplayName)
	assert.Equal(t, "alice", profile.Name)

	profile, err = p.FetchProfile(context.Background(), "bob")
	require.NoError(t, err)
	assert.Nil(t, profile)
}

func TestReconnectPolicy_Delay(t *testing.T) {
	policy := ReconnectPolicy{BaseDelay: time.Second, MaxDelay: 10 * time.Second}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{50, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.expected, policy.Delay(tt.attempt))
		})
	}
}

func TestPool_SubscribeDeduplicatesAcrossRelays(t *testing.T) {
	mention := &nostr.Event{ID: "m1", Kind: nostr.KindTextNote}
	other := &nostr.Event{ID: "m2", Kind: nostr.KindTextNote}
	p := newTestPool(map[string]*fakeConn{
		"wss://a": {stream: []*nostr.Event{mention, other}},
		"wss://b": {stream: []*nostr.Event{mention}},
	})
	p.opts.Reconnect = ReconnectPolicy{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxAttempts: 1}

	sub := p.Subscribe(context.Background(), nostr.Filter{Kinds: []int{nostr.KindTextNote}})
	defer sub.Close()

	var ids []string
	for evt := range sub.Events() {
		ids = append(ids, evt.ID)
	}
	assert.ElementsMatch(t, []string{"m1", "m2"}, ids)
}

func TestPool_SubscribeReconnectsThenGivesUp(t *testing.T) {
	var dials atomic.Int32
	p := NewPool([]string{"wss://flaky"}, Options{
		Reconnect: ReconnectPolicy{BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, MaxAttempts: 3},
	})
	p.dial = func(ctx context.Context, url string) (conn, error) {
		if dials.Add(1) == 2 {
			return &fakeConn{stream: []*nostr.Event{{ID: "m1"}}}, nil
		}
		return nil, errors.New("connection refused")
	}

	sub := p.Subscribe(context.Background(), nostr.Filter{})
	defer sub.Close()

	var ids []string
	for evt := range sub.Events() {
		ids = append(ids, evt.ID)
	}

	// fail, connect and drop, then two more failures
	assert.Equal(t, []string{"m1"}, ids)
	assert.Equal(t, int32(4), dials.Load())
	assert.Equal(t, StateGaveUp, sub.Status()["wss://flaky"])
}

func TestPool_SubscribeGivesUpOnRelayThatDropsImmediately(t *testing.T) {
	var dials atomic.Int32
	p := NewPool([]string{"wss://drops"}, Options{
		Reconnect: ReconnectPolicy{BaseDelay: time.Millisecond, MaxDelay: time.Hour, MaxAttempts: 3},
	})
	p.dial = func(ctx context.Context, url string) (conn, error) {
		dials.Add(1)
		return &fakeConn{}, nil
	}

	sub := p.Subscribe(context.Background(), nostr.Filter{})
	defer sub.Close()

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("relay kept reconnecting")
	}
	assert.Equal(t, int32(3), dials.Load())
	assert.Equal(t, StateGaveUp, sub.Status()["wss://drops"])
}

func TestPool_SubscribeResumesFromLastDrop(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := start
	var clockMu sync.Mutex

	first := &fakeConn{stream: []*nostr.Event{{ID: "m1"}}}
	second := &fakeConn{}
	var dials atomic.Int32
	p := NewPool([]string{"wss://a"}, Options{
		Lookback:  10 * time.Minute,
		Reconnect: ReconnectPolicy{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Hour, MaxAttempts: 2},
	})
	p.dial = func(ctx context.Context, url string) (conn, error) {
		if dials.Add(1) == 1 {
			return first, nil
		}
		return second, nil
	}
	p.now = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		clock = clock.Add(time.Hour)
		return clock
	}

	since := nostr.Timestamp(start.Add(-10 * time.Minute).Unix())
	sub := p.Subscribe(context.Background(), nostr.Filter{Kinds: []int{nostr.KindTextNote}, Since: &since})
	for range sub.Events() {
	}

	require.Len(t, first.filters, 1)
	require.Len(t, second.filters, 1)
	assert.Equal(t, since, *first.filters[0].Since)

	// first connection ran from start+1h to start+2h
	resumed := second.filters[0]
	require.NotNil(t, resumed.Since)
	assert.Equal(t, start.Add(2*time.Hour-10*time.Minute).Unix(), int64(*resumed.Since))
	assert.Equal(t, []int{nostr.KindTextNote}, resumed.Kinds)
	assert.Equal(t, StateGaveUp, sub.Status()["wss://a"])
}

func TestSubscription_CloseStopsRelays(t *testing.T) {
	p := NewPool([]string{"wss://down"}, Options{
		Reconnect: ReconnectPolicy{BaseDelay: time.Hour, MaxDelay: time.Hour, MaxAttempts: 100},
	})
	p.dial = func(ctx context.Context, url string) (conn, error) {
		return nil, errors.New("connection refused")
	}

	sub := p.Subscribe(context.Background(), nostr.Filter{})
	sub.Close()

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not close")
	}
}
