package mentions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nostr-banger/banger-bot/internal/models"
)

const upcomingInReport = 10

// GenerateReport summarises mention outcomes over the report period and
// lists the next reposts.
func (s *Service) GenerateReport(ctx context.Context) (*models.Report, error) {
	now := s.nowFunc()
	window := 24 * time.Hour
	if s.reportPeriod == "weekly" {
		window = 7 * 24 * time.Hour
	}

	outcomes, err := s.store.CountOutcomesSince(ctx, now.Add(-window))
	if err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}

	handled := 0
	for _, n := range outcomes {
		handled += n
	}

	upcoming := s.scheduler.Snapshot()
	highFrequency := 0
	for _, task := range upcoming {
		if task.HighFrequency() {
			highFrequency++
		}
	}
	if len(upcoming) > upcomingInReport {
		upcoming = upcoming[:upcomingInReport]
	}

	metrics := s.metrics.Snapshot()
	report := &models.Report{
		GeneratedAt:     now,
		Period:          s.reportPeriod,
		ActiveTasks:     s.scheduler.Count(),
		MentionsHandled: handled,
		Outcomes:        outcomes,
		UpcomingReposts: upcoming,
		Summary: map[string]interface{}{
			"reposts_published":    metrics.RepostsPublished,
			"reposts_failed":       metrics.RepostsFailed,
			"high_frequency_tasks": highFrequency,
			"uptime":               now.Sub(metrics.StartedAt).Round(time.Second).String(),
		},
	}
	return report, nil
}

// RunReport generates a report, archives it when an archive is configured
// and sends it through the notification channels.
func (s *Service) RunReport(ctx context.Context) error {
	start := time.Now()
	logrus.Info("Generating report")

	report, err := s.GenerateReport(ctx)
	if err != nil {
		return err
	}

	if s.archive != nil {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		filename := fmt.Sprintf("reports/%s/%s.json", report.Period, report.GeneratedAt.UTC().Format("2006-01-02T15-04-05"))
		if err := s.archive.Store(ctx, filename, data); err != nil {
			logrus.Errorf("Failed to archive report: %v", err)
		}
	}

	if s.notificationService != nil {
		if err := s.notificationService.SendReport(report); err != nil {
			return fmt.Errorf("failed to send report: %w", err)
		}
	}

	logrus.Infof("Report sent in %v: %d mentions handled, %d active tasks",
		time.Since(start), report.MentionsHandled, report.ActiveTasks)
	return nil
}
