// Package messages composes the text and tags of every note the bot posts.
package messages

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/nostr-banger/banger-bot/internal/models"
)

const nextPostLayout = "Mon, Jan 2 2006 at 15:04 MST"

// Options tunes the composer
type Options struct {
	Relays             []string
	Location           *time.Location
	MaxMentionsPerHour int
	MaxTasksPerUser    int
}

// Composer builds unsigned events
type Composer struct {
	opts Options
	pick func([]string) string
}

// NewComposer creates a composer that picks templates at random
func NewComposer(opts Options) *Composer {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Composer{
		opts: opts,
		pick: func(choices []string) string {
			return choices[rand.Intn(len(choices))]
		},
	}
}

// Confirmation describes the reply to one mention
type Confirmation struct {
	Outcome     models.Outcome
	Interval    models.Interval
	Repetitions int
	Cancelled   int
	NextFire    time.Time
}

// ShortID shortens an identifier for display
func ShortID(id string) string {
	if id == "" {
		return "unknown"
	}
	runes := []rune(id)
	if len(runes) <= 12 {
		return id
	}
	return string(runes[:8]) + "…" + string(runes[len(runes)-4:])
}

// DisplayName picks display_name, then name, then the shortened npub
func DisplayName(displayName, name, npub string) string {
	if s := strings.TrimSpace(displayName); s != "" {
		return s
	}
	if s := strings.TrimSpace(name); s != "" {
		return s
	}
	return ShortID(npub)
}

// FormatRepost fills the requester name into a repost template
func FormatRepost(template, mentioner string) string {
	return strings.Replace(template, "{mentioner}", mentioner, 1)
}

// ConfirmationText renders the reply body for a mention outcome
func (c *Composer) ConfirmationText(conf Confirmation) string {
	switch conf.Outcome {
	case models.OutcomeCancelled:
		return fmt.Sprintf("Cancelled %d %s for you.", conf.Cancelled, plural(conf.Cancelled, "task", "tasks"))
	case models.OutcomeDuplicateTask:
		return "You already have a task scheduled for this event. Please wait for it to complete or cancel it first."
	case models.OutcomeRateLimited:
		return fmt.Sprintf("You've exceeded the mention rate limit (%d mentions per hour). Please wait before trying again.",
			c.opts.MaxMentionsPerHour)
	case models.OutcomeInvalidCommand:
		return c.pick(InvalidCommandMessages)
	case models.OutcomeNoEventID:
		return "No original event found in your mention. Please reply to the event you want to repost."
	case models.OutcomeNoTaskToCancel:
		return "No active task found to cancel for this event."
	case models.OutcomeTotalLimitExceeded:
		return "System is at maximum capacity. Please try again later."
	case models.OutcomeUserLimitExceeded:
		return fmt.Sprintf("You've reached the maximum number of active tasks (%d) for this interval type.", c.opts.MaxTasksPerUser)
	case models.OutcomeEventNotFound:
		return "The original event could not be found. It may have been deleted."
	case models.OutcomeOwnContent:
		return "I can't repost my own content. Please mention me on someone else's post."
	case models.OutcomeScheduled:
		return fmt.Sprintf("%s Scheduling %s reposts for %d %s. Next post will be on %s.",
			c.pick(ConfirmationMessages), conf.Interval, conf.Repetitions, plural(conf.Repetitions, "time", "times"),
			conf.NextFire.In(c.opts.Location).Format(nextPostLayout))
	default:
		return "Sorry, there was an error processing your request. Please try again."
	}
}

// ConfirmationEvent builds the reply to a mention. targetID and targetAuthor
// are empty when the mention did not reference a target.
func (c *Composer) ConfirmationEvent(mention nostr.Event, targetID, targetAuthor string, conf Confirmation) nostr.Event {
	tags := nostr.Tags{}
	if targetID != "" {
		tags = append(tags, nostr.Tag{"e", targetID, "", "root"})
	}
	tags = append(tags, nostr.Tag{"e", mention.ID, "", "reply"})
	tags = appendPTags(tags, mention.PubKey, targetAuthor)

	return nostr.Event{
		Kind:      nostr.KindTextNote,
		CreatedAt: nostr.Now(),
		Tags:      tags,
		Content:   c.ConfirmationText(conf),
	}
}

// RepostEvent builds the repost note for one firing of a task
func (c *Composer) RepostEvent(task models.Task) (nostr.Event, error) {
	target := task.TargetEvent
	nevent, err := nip19.EncodeEvent(target.ID, c.opts.Relays, target.PubKey)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("failed to encode nevent for %s: %w", target.ID, err)
	}

	firstRelay := ""
	if len(c.opts.Relays) > 0 {
		firstRelay = c.opts.Relays[0]
	}

	name := task.Requester.Name
	if name == "" {
		name = DisplayName("", "", task.Requester.NPub)
	}

	return nostr.Event{
		Kind:      nostr.KindTextNote,
		CreatedAt: nostr.Now(),
		Tags: nostr.Tags{
			{"e", target.ID, firstRelay, "mention"},
			{"p", target.PubKey},
			{"p", task.Requester.PubKey},
		},
		Content: FormatRepost(c.pick(RepostMessages), name) + "\n\nnostr:" + nevent,
	}, nil
}

// ZapReplyEvent builds the short zap request posted under a repost
func (c *Composer) ZapReplyEvent(repost nostr.Event, botPubKey string) nostr.Event {
	tags := nostr.Tags{}
	for _, tag := range repost.Tags {
		if len(tag) >= 4 && tag[0] == "e" && tag[3] == "mention" {
			tags = append(tags, nostr.Tag{"e", tag[1], "", "root"})
			break
		}
	}
	tags = append(tags, nostr.Tag{"e", repost.ID, "", "reply"})

	authors := []string{botPubKey}
	for _, tag := range repost.Tags {
		if len(tag) >= 2 && tag[0] == "p" {
			authors = append(authors, tag[1])
		}
	}
	tags = appendPTags(tags, authors...)

	return nostr.Event{
		Kind:      nostr.KindTextNote,
		CreatedAt: nostr.Now(),
		Tags:      tags,
		Content:   c.pick(ZapReplyMessages),
	}
}

func appendPTags(tags nostr.Tags, pubkeys ...string) nostr.Tags {
	seen := make(map[string]bool, len(pubkeys))
	for _, pk := range pubkeys {
		if pk == "" || seen[pk] {
			continue
		}
		seen[pk] = true
		tags = append(tags, nostr.Tag{"p", pk})
	}
	return tags
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
