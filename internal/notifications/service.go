package notifications

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/nostr-banger/banger-bot/internal/config"
	"github.com/nostr-banger/banger-bot/internal/messages"
	"github.com/nostr-banger/banger-bot/internal/models"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// Service handles sending notifications via various channels
type Service struct {
	config *config.Config
	client *resty.Client
}

// Ensure Service implements NotificationInterface
var _ NotificationInterface = (*Service)(nil)

// TeamsMessage represents a Microsoft Teams message
type TeamsMessage struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	ThemeColor string         `json:"themeColor,omitempty"`
	Title      string         `json:"title"`
	Text       string         `json:"text"`
	Sections   []TeamsSection `json:"sections,omitempty"`
}

type TeamsSection struct {
	ActivityTitle    string      `json:"activityTitle,omitempty"`
	ActivitySubtitle string      `json:"activitySubtitle,omitempty"`
	ActivityText     string      `json:"activityText,omitempty"`
	Facts            []TeamsFact `json:"facts,omitempty"`
	Markdown         bool        `json:"markdown,omitempty"`
}

type TeamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// outcomeCount is one row of the outcome breakdown, largest first
type outcomeCount struct {
	Outcome models.Outcome
	Count   int
}

// NewService creates a new notification service
func NewService(cfg *config.Config) *Service {
	return &Service{
		config: cfg,
		client: resty.New().SetTimeout(30 * time.Second),
	}
}

// SendReport sends a report via configured notification channels
func (s *Service) SendReport(report *models.Report) error {
	return s.send("report",
		func() error { return s.postToTeams(s.buildTeamsMessage(report)) },
		func() error { return s.sendReportEmail(report) },
	)
}

// SendAlert sends an urgent alert via configured notification channels
func (s *Service) SendAlert(alert *models.Alert) error {
	return s.send("alert",
		func() error { return s.postToTeams(s.buildTeamsAlert(alert)) },
		func() error { return s.sendAlertEmail(alert) },
	)
}

func (s *Service) send(kind string, teams, email func() error) error {
	var errors []string

	if s.config.TeamsWebhookURL != "" {
		if err := teams(); err != nil {
			logrus.Errorf("Failed to send Teams %s: %v", kind, err)
			errors = append(errors, fmt.Sprintf("Teams: %v", err))
		} else {
			logrus.Infof("Successfully sent %s to Teams", kind)
		}
	}

	if s.config.NotificationEmail != "" {
		if err := email(); err != nil {
			logrus.Errorf("Failed to send email %s: %v", kind, err)
			errors = append(errors, fmt.Sprintf("Email: %v", err))
		} else {
			logrus.Infof("Successfully sent %s via email", kind)
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

func (s *Service) postToTeams(message *TeamsMessage) error {
	resp, err := s.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(message).
		Post(s.config.TeamsWebhookURL)

	if err != nil {
		return fmt.Errorf("failed to send Teams message: %w", err)
	}

	if resp.StatusCode() != 200 {
		return fmt.Errorf("Teams webhook returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	return nil
}

func (s *Service) buildTeamsMessage(report *models.Report) *TeamsMessage {
	message := &TeamsMessage{
		Type:    "MessageCard",
		Context: "https://schema.org/extensions",
		Title:   fmt.Sprintf("Banger Bot Report - %s", titleCase(report.Period)),
		Text: fmt.Sprintf("Handled %d mentions in the last %s, %d tasks active",
			report.MentionsHandled, periodNoun(report.Period), report.ActiveTasks),
	}

	facts := []TeamsFact{
		{Name: "Active Tasks", Value: fmt.Sprintf("%d", report.ActiveTasks)},
		{Name: "Mentions Handled", Value: fmt.Sprintf("%d", report.MentionsHandled)},
		{Name: "Generated", Value: report.GeneratedAt.UTC().Format("2006-01-02 15:04:05 UTC")},
	}
	for _, oc := range sortedOutcomes(report.Outcomes) {
		facts = append(facts, TeamsFact{Name: outcomeLabel(oc.Outcome), Value: fmt.Sprintf("%d", oc.Count)})
	}

	message.Sections = append(message.Sections, TeamsSection{
		ActivityTitle: "Summary",
		Facts:         facts,
		Markdown:      true,
	})

	if len(report.UpcomingReposts) > 0 {
		var upcoming []string
		limit := min(5, len(report.UpcomingReposts))
		for _, task := range report.UpcomingReposts[:limit] {
			upcoming = append(upcoming, upcomingLine(task))
		}

		message.Sections = append(message.Sections, TeamsSection{
			ActivityTitle: "Upcoming Reposts",
			ActivityText:  strings.Join(upcoming, "\n\n"),
			Markdown:      true,
		})
	}

	return message
}

func (s *Service) buildTeamsAlert(alert *models.Alert) *TeamsMessage {
	color := "0078D4"
	switch alert.Type {
	case "critical":
		color = "D13438"
	case "urgent":
		color = "FFB900"
	}

	message := &TeamsMessage{
		Type:       "MessageCard",
		Context:    "https://schema.org/extensions",
		ThemeColor: color,
		Title:      fmt.Sprintf("[%s] %s", strings.ToUpper(alert.Type), alert.Title),
		Text:       alert.Message,
	}

	if alert.Task != nil {
		message.Sections = append(message.Sections, TeamsSection{
			ActivityTitle: "Task",
			Facts: []TeamsFact{
				{Name: "ID", Value: alert.Task.ID},
				{Name: "Requester", Value: alert.Task.Requester.Name},
				{Name: "Remaining", Value: fmt.Sprintf("%d", alert.Task.RepetitionsRemaining)},
			},
		})
	}

	return message
}

func (s *Service) sendReportEmail(report *models.Report) error {
	subject := fmt.Sprintf("Banger Bot Report - %s (%d mentions, %d active tasks)",
		titleCase(report.Period), report.MentionsHandled, report.ActiveTasks)

	htmlBody, err := s.buildEmailHTML(report)
	if err != nil {
		return fmt.Errorf("failed to build email HTML: %w", err)
	}

	return s.sendEmail(subject, s.buildEmailText(report), htmlBody)
}

func (s *Service) sendAlertEmail(alert *models.Alert) error {
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(alert.Type), alert.Title)
	body := fmt.Sprintf("%s\n\nCreated: %s\n", alert.Message, alert.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	return s.sendEmail(subject, body, "")
}

func (s *Service) sendEmail(subject, textBody, htmlBody string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.config.SMTPUsername)
	m.SetHeader("To", s.config.NotificationEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", textBody)
	if htmlBody != "" {
		m.AddAlternative("text/html", htmlBody)
	}

	d := gomail.NewDialer(s.config.SMTPHost, s.config.SMTPPort, s.config.SMTPUsername, s.config.SMTPPassword)

	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

const emailTemplate = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Banger Bot Report</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .header { background-color: #7b2ff7; color: white; padding: 20px; border-radius: 5px; }
        .summary { background-color: #f5f5f5; padding: 15px; margin: 20px 0; border-radius: 5px; }
        .task { border-left: 4px solid #7b2ff7; padding: 10px; margin: 10px 0; background-color: #fafafa; }
        .task-meta { color: #666; font-size: 0.9em; }
    </style>
</head>
<body>
    <div class="header">
        <h1>Banger Bot Report</h1>
        <p>{{.Report.Period | title}} report generated on {{.Report.GeneratedAt.UTC.Format "January 2, 2006 at 3:04 PM UTC"}}</p>
    </div>

    <div class="summary">
        <h2>Summary</h2>
        <p><strong>Active Tasks:</strong> {{.Report.ActiveTasks}}</p>
        <p><strong>Mentions Handled:</strong> {{.Report.MentionsHandled}}</p>
        {{range .Outcomes}}
            <p><strong>{{label .Outcome}}:</strong> {{.Count}}</p>
        {{end}}
    </div>

    {{if .Report.UpcomingReposts}}
    <h2>Upcoming Reposts</h2>
    {{range $index, $task := .Report.UpcomingReposts}}
        {{if lt $index 10}}
        <div class="task">
            <div><strong>{{interval $task}}</strong> repost of {{short $task.TargetEvent.ID}}</div>
            <div class="task-meta">
                Requested by {{$task.Requester.Name}} | {{$task.RepetitionsRemaining}} left | next {{$task.NextFireTime.UTC.Format "Jan 2, 2006 15:04 UTC"}}
            </div>
        </div>
        {{end}}
    {{end}}
    {{end}}

    <hr>
    <p><small>This report was generated automatically by the Banger Bot.</small></p>
</body>
</html>
`

func (s *Service) buildEmailHTML(report *models.Report) (string, error) {
	t := template.New("email").Funcs(template.FuncMap{
		"title": titleCase,
		"label": outcomeLabel,
		"short": messages.ShortID,
		"interval": func(task models.Task) string {
			interval, _ := task.Interval()
			return interval.String()
		},
	})

	t, err := t.Parse(emailTemplate)
	if err != nil {
		return "", err
	}

	data := struct {
		Report   *models.Report
		Outcomes []outcomeCount
	}{report, sortedOutcomes(report.Outcomes)}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

func (s *Service) buildEmailText(report *models.Report) string {
	var text strings.Builder

	text.WriteString(fmt.Sprintf("Banger Bot Report - %s\n", titleCase(report.Period)))
	text.WriteString(fmt.Sprintf("Generated: %s\n\n", report.GeneratedAt.UTC().Format("2006-01-02 15:04:05 UTC")))

	text.WriteString("SUMMARY\n")
	text.WriteString("=======\n")
	text.WriteString(fmt.Sprintf("Active Tasks: %d\n", report.ActiveTasks))
	text.WriteString(fmt.Sprintf("Mentions Handled: %d\n", report.MentionsHandled))
	for _, oc := range sortedOutcomes(report.Outcomes) {
		text.WriteString(fmt.Sprintf("%s: %d\n", outcomeLabel(oc.Outcome), oc.Count))
	}

	if len(report.UpcomingReposts) > 0 {
		text.WriteString("\nUPCOMING REPOSTS\n")
		text.WriteString("================\n")

		limit := min(10, len(report.UpcomingReposts))
		for i, task := range report.UpcomingReposts[:limit] {
			text.WriteString(fmt.Sprintf("%d. %s\n", i+1, upcomingLine(task)))
		}
	}

	text.WriteString("\n---\nThis report was generated automatically by the Banger Bot.\n")

	return text.String()
}

func sortedOutcomes(outcomes map[models.Outcome]int) []outcomeCount {
	out := make([]outcomeCount, 0, len(outcomes))
	for outcome, count := range outcomes {
		out = append(out, outcomeCount{outcome, count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Outcome < out[j].Outcome
		}
		return out[i].Count > out[j].Count
	})
	return out
}

func upcomingLine(task models.Task) string {
	interval, _ := task.Interval()
	return fmt.Sprintf("**%s** repost of %s for %s, %d left, next %s",
		interval, messages.ShortID(task.TargetID()), task.Requester.Name, task.RepetitionsRemaining,
		task.NextFireTime.UTC().Format("Jan 2 15:04 UTC"))
}

func outcomeLabel(outcome models.Outcome) string {
	return titleCase(strings.ReplaceAll(string(outcome), "_", " "))
}

func periodNoun(period string) string {
	switch period {
	case "daily":
		return "day"
	case "weekly":
		return "week"
	default:
		return period
	}
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
