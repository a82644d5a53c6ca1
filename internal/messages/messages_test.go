package messages

import (
	"strings"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nostr-banger/banger-bot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestComposer() *Composer {
	c := NewComposer(Options{
		Relays:             []string{"wss://relay.one", "wss://relay.two"},
		Location:           time.UTC,
		MaxMentionsPerHour: 10,
		MaxTasksPerUser:    5,
	})
	c.pick = func(choices []string) string { return choices[0] }
	return c
}

func TestShortID(t *testing.T) {
	tests := []struct {
		id       string
		expected string
	}{
		{"", "unknown"},
		{"npub1short", "npub1short"},
		{"npub1abcdefghijklmnopqrstuvwxyz", "npub1abc…wxyz"},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.expected, ShortID(tt.id))
		})
	}
}

func TestDisplayName(t *testing.T) {
	npub := "npub1abcdefghijklmnopqrstuvwxyz"
	assert.Equal(t, "Alice", DisplayName("Alice", "alice", npub))
	assert.Equal(t, "alice", DisplayName("  ", "alice", npub))
	assert.Equal(t, "npub1abc…wxyz", DisplayName("", "", npub))
}

func TestFormatRepost(t *testing.T) {
	assert.Equal(t, "Curated by alice. ✨", FormatRepost("Curated by {mentioner}. ✨", "alice"))
	// only the first placeholder is filled
	assert.Equal(t, "alice and {mentioner}", FormatRepost("{mentioner} and {mentioner}", "alice"))
}

func TestComposer_ConfirmationText(t *testing.T) {
	c := newTestComposer()
	next := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		conf     Confirmation
		contains string
	}{
		{"Scheduled", Confirmation{Outcome: models.OutcomeScheduled, Interval: models.Weekly, Repetitions: 2, NextFire: next},
			"Scheduling weekly reposts for 2 times. Next post will be on Sun, Mar 8 2026 at 12:00 UTC."},
		{"Scheduled once", Confirmation{Outcome: models.OutcomeScheduled, Interval: models.Daily, Repetitions: 1, NextFire: next},
			"for 1 time."},
		{"Cancelled one", Confirmation{Outcome: models.OutcomeCancelled, Cancelled: 1}, "Cancelled 1 task for you."},
		{"Cancelled many", Confirmation{Outcome: models.OutcomeCancelled, Cancelled: 3}, "Cancelled 3 tasks for you."},
		{"Rate limited", Confirmation{Outcome: models.OutcomeRateLimited}, "(10 mentions per hour)"},
		{"User limit", Confirmation{Outcome: models.OutcomeUserLimitExceeded}, "active tasks (5)"},
		{"Duplicate", Confirmation{Outcome: models.OutcomeDuplicateTask}, "already have a task"},
		{"No event", Confirmation{Outcome: models.OutcomeNoEventID}, "No original event"},
		{"Nothing to cancel", Confirmation{Outcome: models.OutcomeNoTaskToCancel}, "No active task"},
		{"Capacity", Confirmation{Outcome: models.OutcomeTotalLimitExceeded}, "maximum capacity"},
		{"Not found", Confirmation{Outcome: models.OutcomeEventNotFound}, "could not be found"},
		{"Own content", Confirmation{Outcome: models.OutcomeOwnContent}, "my own content"},
		{"Invalid", Confirmation{Outcome: models.OutcomeInvalidCommand}, "repeat weekly for 3 weeks"},
		{"Error", Confirmation{Outcome: models.OutcomeProcessingError}, "error processing your request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, c.ConfirmationText(tt.conf), tt.contains)
		})
	}
}

func TestComposer_ConfirmationEvent(t *testing.T) {
	c := newTestComposer()
	mention := nostr.Event{ID: "mention", PubKey: "alice"}

	evt := c.ConfirmationEvent(mention, "target", "bob", Confirmation{Outcome: models.OutcomeDuplicateTask})
	assert.Equal(t, nostr.KindTextNote, evt.Kind)
	assert.Equal(t, nostr.Tags{
		{"e", "target", "", "root"},
		{"e", "mention", "", "reply"},
		{"p", "alice"},
		{"p", "bob"},
	}, evt.Tags)

	// p tags are deduplicated and the root is left out without a target
	evt = c.ConfirmationEvent(mention, "", "alice", Confirmation{Outcome: models.OutcomeNoEventID})
	assert.Equal(t, nostr.Tags{
		{"e", "mention", "", "reply"},
		{"p", "alice"},
	}, evt.Tags)
}

func TestComposer_RepostEvent(t *testing.T) {
	c := newTestComposer()
	target := nostr.Event{
		ID:     "d0b1e5c2a7f3948e6b2c1d0e9f8a7b6c5d4e3f2a1b0c9d8e7f6a5b4c3d2e1f00",
		PubKey: "7e7e9c42a91bfef19fa929e5fda1b72e0ebc1a4c1141673e2794234d86addf4e",
	}
	task := models.NewTask(target, models.Weekly, 2, models.Requester{PubKey: "alice", Name: "Alice"}, time.Now())

	evt, err := c.RepostEvent(task)
	require.NoError(t, err)

	assert.Equal(t, nostr.Tags{
		{"e", target.ID, "wss://relay.one", "mention"},
		{"p", target.PubKey},
		{"p", "alice"},
	}, evt.Tags)

	parts := strings.SplitN(evt.Content, "\n\n", 2)
	require.Len(t, parts, 2)
	assert.Equal(t, "This banger is brought to you by Alice. 🔥", parts[0])
	assert.True(t, strings.HasPrefix(parts[1], "nostr:nevent1"))
}

func TestComposer_ZapReplyEvent(t *testing.T) {
	c := newTestComposer()
	repost := nostr.Event{
		ID: "repost",
		Tags: nostr.Tags{
			{"e", "target", "wss://relay.one", "mention"},
			{"p", "author"},
			{"p", "alice"},
			{"p", "bot"},
		},
	}

	evt := c.ZapReplyEvent(repost, "bot")
	assert.Equal(t, nostr.Tags{
		{"e", "target", "", "root"},
		{"e", "repost", "", "reply"},
		{"p", "bot"},
		{"p", "author"},
		{"p", "alice"},
	}, evt.Tags)
	assert.Equal(t, ZapReplyMessages[0], evt.Content)
}
