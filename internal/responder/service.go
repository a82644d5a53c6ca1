// Package responder signs and publishes everything the bot posts.
package responder

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nostr-banger/banger-bot/internal/messages"
	"github.com/nostr-banger/banger-bot/internal/models"
	"github.com/sirupsen/logrus"
)

// Publisher sends a signed event to relays
type Publisher interface {
	Publish(ctx context.Context, evt nostr.Event) (int, error)
}

// Signer signs events as the bot
type Signer interface {
	PublicKey() string
	Sign(evt *nostr.Event) error
}

// Recorder receives repost publish results
type Recorder interface {
	RecordRepost(published bool)
}

// Service publishes reposts and confirmations
type Service struct {
	publisher      Publisher
	signer         Signer
	composer       *messages.Composer
	recorder       Recorder
	enableZapReply bool
}

// NewService creates a new responder
func NewService(publisher Publisher, signer Signer, composer *messages.Composer, recorder Recorder, enableZapReply bool) *Service {
	return &Service{
		publisher:      publisher,
		signer:         signer,
		composer:       composer,
		recorder:       recorder,
		enableZapReply: enableZapReply,
	}
}

// PublishRepost posts one repost for the task. The zap reply that may
// follow never affects the result.
func (s *Service) PublishRepost(ctx context.Context, task models.Task) error {
	evt, err := s.composer.RepostEvent(task)
	if err != nil {
		s.record(false)
		return err
	}

	accepted, err := s.signAndPublish(ctx, &evt)
	if err != nil {
		s.record(false)
		return fmt.Errorf("failed to publish repost of %s: %w", task.TargetID(), err)
	}
	s.record(true)

	logrus.WithFields(logrus.Fields{
		"task_id":  task.ID,
		"target":   task.TargetID(),
		"repost":   evt.ID,
		"accepted": accepted,
	}).Info("Published repost")

	if s.enableZapReply {
		s.sendZapReply(ctx, evt)
	}
	return nil
}

func (s *Service) sendZapReply(ctx context.Context, repost nostr.Event) {
	evt := s.composer.ZapReplyEvent(repost, s.signer.PublicKey())
	accepted, err := s.signAndPublish(ctx, &evt)
	if err != nil {
		logrus.Errorf("Failed to send zap reply to repost %s: %v", repost.ID, err)
		return
	}
	logrus.Debugf("Sent zap reply to repost %s (accepted by %d relays)", repost.ID, accepted)
}

// SendConfirmation replies to a mention with the outcome of processing it
func (s *Service) SendConfirmation(ctx context.Context, mention nostr.Event, targetID, targetAuthor string, conf messages.Confirmation) error {
	evt := s.composer.ConfirmationEvent(mention, targetID, targetAuthor, conf)
	accepted, err := s.signAndPublish(ctx, &evt)
	if err != nil {
		return fmt.Errorf("failed to send confirmation for mention %s: %w", mention.ID, err)
	}

	logrus.WithFields(logrus.Fields{
		"mention":  mention.ID,
		"outcome":  conf.Outcome,
		"accepted": accepted,
	}).Info("Sent confirmation reply")
	return nil
}

func (s *Service) signAndPublish(ctx context.Context, evt *nostr.Event) (int, error) {
	if err := s.signer.Sign(evt); err != nil {
		return 0, err
	}
	return s.publisher.Publish(ctx, *evt)
}

func (s *Service) record(published bool) {
	if s.recorder != nil {
		s.recorder.RecordRepost(published)
	}
}
