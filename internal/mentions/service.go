// Package mentions turns incoming mentions of the bot into scheduled or
// cancelled repost tasks, replying once to every mention it handles.
package mentions

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/nostr-banger/banger-bot/internal/command"
	"github.com/nostr-banger/banger-bot/internal/messages"
	"github.com/nostr-banger/banger-bot/internal/models"
	"github.com/nostr-banger/banger-bot/internal/notifications"
	"github.com/nostr-banger/banger-bot/internal/relay"
	"github.com/nostr-banger/banger-bot/internal/storage"
)

const alertInterval = 15 * time.Minute

// GuardInterface is the spam guard consulted before a task is created
type GuardInterface interface {
	CheckMentionRate(ctx context.Context, pubkey string) (bool, error)
	CheckDuplicateTask(ctx context.Context, pubkey, targetEventID string) (bool, error)
	CheckGlobalCap(ctx context.Context) (bool, error)
	CheckUserTaskCap(ctx context.Context, pubkey string, interval models.Interval) (bool, error)
}

// SchedulerInterface owns the live task set
type SchedulerInterface interface {
	CreateTask(ctx context.Context, task models.Task) error
	CancelSpecificTask(ctx context.Context, pubkey, targetEventID string) int
	Count() int
	Snapshot() []models.Task
}

// FetcherInterface looks events and profiles up on relays
type FetcherInterface interface {
	FetchByID(ctx context.Context, id string) (*nostr.Event, error)
	FetchProfile(ctx context.Context, pubkey string) (*relay.Profile, error)
}

// ResponderInterface replies to mentions
type ResponderInterface interface {
	SendConfirmation(ctx context.Context, mention nostr.Event, targetID, targetAuthor string, conf messages.Confirmation) error
}

// Dependencies groups the collaborators of a Service
type Dependencies struct {
	Store         storage.StorageInterface
	Archive       storage.ArchiveInterface
	Guard         GuardInterface
	Scheduler     SchedulerInterface
	Fetcher       FetcherInterface
	Responder     ResponderInterface
	Notifications notifications.NotificationInterface
	Metrics       *Metrics
}

// Service processes mentions one at a time
type Service struct {
	botPubKey           string
	reportPeriod        string
	store               storage.StorageInterface
	archive             storage.ArchiveInterface
	guard               GuardInterface
	scheduler           SchedulerInterface
	fetcher             FetcherInterface
	responder           ResponderInterface
	notificationService notifications.NotificationInterface
	metrics             *Metrics
	alertLimiter        *rate.Limiter
	nowFunc             func() time.Time
}

// NewService creates a mention processor for the bot identified by botPubKey
func NewService(botPubKey, reportPeriod string, deps Dependencies) *Service {
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Service{
		botPubKey:           botPubKey,
		reportPeriod:        reportPeriod,
		store:               deps.Store,
		archive:             deps.Archive,
		guard:               deps.Guard,
		scheduler:           deps.Scheduler,
		fetcher:             deps.Fetcher,
		responder:           deps.Responder,
		notificationService: deps.Notifications,
		metrics:             metrics,
		alertLimiter:        rate.NewLimiter(rate.Every(alertInterval), 1),
		nowFunc:             time.Now,
	}
}

// Metrics returns the live metrics of the service
func (s *Service) Metrics() *Metrics {
	return s.metrics
}

// GetMetrics returns current metrics as JSON
func (s *Service) GetMetrics() string {
	return s.metrics.JSON()
}

// result is everything needed to close out one mention
type result struct {
	outcome      models.Outcome
	targetID     string
	targetAuthor string
	interval     models.Interval
	repetitions  int
	cancelled    int
	nextFire     time.Time
	err          error
}

// Run processes events until the channel closes or ctx ends
func (s *Service) Run(ctx context.Context, events <-chan *nostr.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				logrus.Warn("Mention stream closed")
				return
			}
			if evt != nil {
				s.safeProcess(ctx, *evt)
			}
		}
	}
}

func (s *Service) safeProcess(ctx context.Context, mention nostr.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.recordPanic()
			logrus.WithField("mention_id", mention.ID).Errorf("Panic while processing mention: %v\n%s", r, debug.Stack())
			s.finishAfterPanic(ctx, mention, r)
		}
	}()
	s.Process(ctx, mention)
}

// finishAfterPanic gives a mention that panicked before it was marked
// processed a processing_error outcome, so a redelivery is not handled again.
func (s *Service) finishAfterPanic(ctx context.Context, mention nostr.Event, cause any) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("mention_id", mention.ID).Errorf("Panic while finishing failed mention: %v", r)
		}
	}()

	processed, err := s.store.IsMentionProcessed(ctx, mention.ID)
	if err != nil {
		logrus.WithField("mention_id", mention.ID).Errorf("Failed to check processed mentions after panic: %v", err)
		return
	}
	if processed {
		return
	}
	s.finish(ctx, mention, result{
		outcome: models.OutcomeProcessingError,
		err:     fmt.Errorf("panic: %v", cause),
	})
}

// Process handles one mention and returns its outcome. An empty outcome
// means the mention was skipped without a reply.
func (s *Service) Process(ctx context.Context, mention nostr.Event) models.Outcome {
	logger := logrus.WithFields(logrus.Fields{"mention_id": mention.ID, "pubkey": mention.PubKey})

	processed, err := s.store.IsMentionProcessed(ctx, mention.ID)
	if err != nil {
		logger.Errorf("Failed to check processed mentions, skipping: %v", err)
		return ""
	}
	if processed {
		logger.Debug("Mention already processed")
		return ""
	}
	if mention.PubKey == s.botPubKey {
		logger.Debug("Ignoring own mention")
		return ""
	}
	if mention.Kind != nostr.KindTextNote || !mentionsPubKey(mention, s.botPubKey) {
		logger.Debug("Event does not mention the bot")
		return ""
	}

	res := s.handle(ctx, mention)
	s.finish(ctx, mention, res)
	return res.outcome
}

func (s *Service) handle(ctx context.Context, mention nostr.Event) result {
	allowed, err := s.guard.CheckMentionRate(ctx, mention.PubKey)
	if err != nil {
		return result{outcome: models.OutcomeProcessingError, err: fmt.Errorf("mention rate check: %w", err)}
	}
	if !allowed {
		return result{outcome: models.OutcomeRateLimited}
	}

	cmd := command.Parse(mention.Content)
	switch cmd.Action {
	case command.ActionCancel:
		return s.cancel(ctx, mention)
	case command.ActionSchedule:
		return s.schedule(ctx, mention, cmd)
	default:
		return result{outcome: models.OutcomeInvalidCommand}
	}
}

func (s *Service) cancel(ctx context.Context, mention nostr.Event) result {
	targetID := TargetEventID(mention)
	if targetID == "" {
		return result{outcome: models.OutcomeNoEventID}
	}

	n := s.scheduler.CancelSpecificTask(ctx, mention.PubKey, targetID)
	if n == 0 {
		return result{outcome: models.OutcomeNoTaskToCancel, targetID: targetID}
	}
	return result{outcome: models.OutcomeCancelled, targetID: targetID, cancelled: n}
}

func (s *Service) schedule(ctx context.Context, mention nostr.Event, cmd command.Command) result {
	res := result{interval: cmd.Interval, repetitions: cmd.Repetitions}

	res.targetID = TargetEventID(mention)
	if res.targetID == "" {
		res.outcome = models.OutcomeNoEventID
		return res
	}

	duplicate, err := s.guard.CheckDuplicateTask(ctx, mention.PubKey, res.targetID)
	if err != nil {
		return res.failed(fmt.Errorf("duplicate check: %w", err))
	}
	if duplicate {
		res.outcome = models.OutcomeDuplicateTask
		return res
	}

	allowed, err := s.guard.CheckGlobalCap(ctx)
	if err != nil {
		return res.failed(fmt.Errorf("global cap check: %w", err))
	}
	if !allowed {
		res.outcome = models.OutcomeTotalLimitExceeded
		return res
	}

	allowed, err = s.guard.CheckUserTaskCap(ctx, mention.PubKey, cmd.Interval)
	if err != nil {
		return res.failed(fmt.Errorf("user cap check: %w", err))
	}
	if !allowed {
		res.outcome = models.OutcomeUserLimitExceeded
		return res
	}

	target, err := s.fetcher.FetchByID(ctx, res.targetID)
	if err != nil {
		return res.failed(fmt.Errorf("fetch target event: %w", err))
	}
	if target == nil {
		res.outcome = models.OutcomeEventNotFound
		return res
	}
	res.targetAuthor = target.PubKey
	if target.PubKey == s.botPubKey {
		res.outcome = models.OutcomeOwnContent
		return res
	}

	requester := s.resolveRequester(ctx, mention.PubKey)
	task := models.NewTask(*target, cmd.Interval, cmd.Repetitions, requester, s.nowFunc())
	if err := s.scheduler.CreateTask(ctx, task); err != nil {
		return res.failed(fmt.Errorf("create task: %w", err))
	}

	res.outcome = models.OutcomeScheduled
	res.nextFire = task.NextFireTime
	return res
}

func (r result) failed(err error) result {
	r.outcome = models.OutcomeProcessingError
	r.err = err
	return r
}

// resolveRequester builds the requester with the best available name. A
// profile lookup failure falls back to the shortened npub.
func (s *Service) resolveRequester(ctx context.Context, pubkey string) models.Requester {
	npub, err := nip19.EncodePublicKey(pubkey)
	if err != nil {
		npub = pubkey
	}

	var displayName, name string
	profile, err := s.fetcher.FetchProfile(ctx, pubkey)
	if err != nil {
		logrus.WithField("pubkey", pubkey).Warnf("Failed to fetch requester profile: %v", err)
	} else if profile != nil {
		displayName, name = profile.DisplayName, profile.Name
	}

	return models.Requester{
		PubKey: pubkey,
		NPub:   npub,
		Name:   messages.DisplayName(displayName, name, npub),
	}
}

// finish marks the mention processed and sends its single confirmation.
// Neither failure changes the outcome.
func (s *Service) finish(ctx context.Context, mention nostr.Event, res result) {
	now := s.nowFunc()
	logger := logrus.WithFields(logrus.Fields{
		"mention_id": mention.ID,
		"pubkey":     mention.PubKey,
		"outcome":    res.outcome,
		"target_id":  res.targetID,
	})

	if res.err != nil {
		logger.Errorf("Mention processing failed: %v", res.err)
		s.alert(mention, res)
	} else {
		logger.Info("Mention processed")
	}

	record := models.ProcessedMention{
		MentionID:     mention.ID,
		PubKey:        mention.PubKey,
		TargetEventID: res.targetID,
		Outcome:       res.outcome,
		Interval:      res.interval,
		Repetitions:   res.repetitions,
		ProcessedAt:   now,
	}
	if err := s.store.MarkMentionProcessed(ctx, record); err != nil {
		logger.Errorf("Failed to mark mention processed: %v", err)
	}

	conf := messages.Confirmation{
		Outcome:     res.outcome,
		Interval:    res.interval,
		Repetitions: res.repetitions,
		Cancelled:   res.cancelled,
		NextFire:    res.nextFire,
	}
	if err := s.responder.SendConfirmation(ctx, mention, res.targetID, res.targetAuthor, conf); err != nil {
		logger.Warnf("Failed to send confirmation: %v", err)
	}

	s.metrics.RecordOutcome(res.outcome, now)
}

// alert notifies operators about processing errors, at most once per
// alertInterval.
func (s *Service) alert(mention nostr.Event, res result) {
	if s.notificationService == nil || !s.alertLimiter.Allow() {
		return
	}

	alert := &models.Alert{
		ID:        uuid.NewString(),
		Type:      "urgent",
		Title:     "Mention processing failed",
		Message:   fmt.Sprintf("Mention %s from %s: %v", mention.ID, mention.PubKey, res.err),
		CreatedAt: s.nowFunc(),
	}
	go func() {
		if err := s.notificationService.SendAlert(alert); err != nil {
			logrus.Errorf("Failed to send alert: %v", err)
		}
	}()
}
