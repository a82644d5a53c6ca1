package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"

	"github.com/nostr-banger/banger-bot/internal/config"
	"github.com/nostr-banger/banger-bot/internal/messages"
	"github.com/nostr-banger/banger-bot/internal/models"
	"github.com/nostr-banger/banger-bot/internal/storage"
)

const outputDir = "test_output"

func main() {
	days := flag.Int("days", 7, "outcome window in days")
	archived := flag.Bool("archived", false, "list reports archived in blob storage instead")
	show := flag.String("show", "", "print one archived report by name")
	flag.Parse()

	fmt.Println("🤖 Banger Bot - Task Report")
	fmt.Println("===========================")

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *archived || *show != "" {
		if err := printArchive(cfg, *show); err != nil {
			log.Fatalf("Failed to read archive: %v", err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := storage.Open(ctx, storage.Config{
		Driver:      cfg.StoreDriver,
		SQLitePath:  cfg.SQLitePath,
		DatabaseURL: cfg.DatabaseURL,
		Timeout:     cfg.StoreTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	report, err := buildReport(ctx, store, time.Duration(*days)*24*time.Hour)
	if err != nil {
		log.Fatalf("Failed to build report: %v", err)
	}

	printReport(report)
	if err := saveReport(report); err != nil {
		fmt.Printf("\n⚠️  Warning: Could not save to file: %v\n", err)
	}
}

// reportSource is the read-only view of the store the report needs. The
// running bot owns quarantine, so the report never repairs rows itself.
type reportSource interface {
	ListActiveTasks(ctx context.Context) ([]models.Task, int, error)
	CountOutcomesSince(ctx context.Context, since time.Time) (map[models.Outcome]int, error)
}

func buildReport(ctx context.Context, store reportSource, window time.Duration) (*models.Report, error) {
	now := time.Now()
	tasks, malformed, err := store.ListActiveTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].NextFireTime.Before(tasks[j].NextFireTime)
	})

	outcomes, err := store.CountOutcomesSince(ctx, now.Add(-window))
	if err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}
	handled := 0
	for _, n := range outcomes {
		handled += n
	}

	return &models.Report{
		GeneratedAt:     now,
		Period:          fmt.Sprintf("last %s", humanize.RelTime(now.Add(-window), now, "", "")),
		ActiveTasks:     len(tasks),
		MentionsHandled: handled,
		Outcomes:        outcomes,
		UpcomingReposts: tasks,
		Summary: map[string]interface{}{
			"window_days":    int(window.Hours() / 24),
			"malformed_rows": malformed,
		},
	}, nil
}

func printReport(report *models.Report) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	fmt.Printf("📅 Period: %s\n", strings.TrimSpace(report.Period))
	fmt.Printf("🕒 Generated: %s\n", report.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("📈 Mentions handled: %s\n", humanize.Comma(int64(report.MentionsHandled)))
	fmt.Printf("🔁 Active tasks: %s\n", humanize.Comma(int64(report.ActiveTasks)))

	if len(report.Outcomes) > 0 {
		fmt.Println("\n📍 Outcomes:")
		keys := make([]string, 0, len(report.Outcomes))
		for outcome := range report.Outcomes {
			keys = append(keys, string(outcome))
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Printf("   • %-22s %d\n", key+":", report.Outcomes[models.Outcome(key)])
		}
	}

	fmt.Println("\n📝 Tasks:")
	if len(report.UpcomingReposts) == 0 {
		fmt.Println("   (none)")
	}
	for i, task := range report.UpcomingReposts {
		interval, _ := task.Interval()
		fmt.Printf("   %d. %s by %s, %s x%d, next %s\n",
			i+1,
			messages.ShortID(task.TargetID()),
			task.Requester.Name,
			interval,
			task.RepetitionsRemaining,
			humanize.Time(task.NextFireTime),
		)
	}
	fmt.Println("\n" + strings.Repeat("=", 70))
}

func saveReport(report *models.Report) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	filename := filepath.Join(outputDir, fmt.Sprintf("task_report_%s.json", report.GeneratedAt.Format("2006-01-02_15-04-05")))
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return err
	}

	fmt.Printf("\n💾 Report saved to: %s\n", filename)
	return nil
}

// printArchive lists archived reports, or prints one when name is set
func printArchive(cfg *config.Config, name string) error {
	if cfg.StorageAccount == "" {
		return fmt.Errorf("AZURE_STORAGE_ACCOUNT is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	archive, err := storage.NewBlobArchive(ctx, cfg.StorageAccount, cfg.StorageContainer)
	if err != nil {
		return err
	}

	if name != "" {
		data, err := archive.Retrieve(ctx, name)
		if err != nil {
			return err
		}
		var report models.Report
		if err := json.Unmarshal(data, &report); err != nil {
			return fmt.Errorf("failed to decode %s: %w", name, err)
		}
		printReport(&report)
		return nil
	}

	names, err := archive.List(ctx, "reports/")
	if err != nil {
		return err
	}
	sort.Strings(names)
	fmt.Printf("\n🗂️  %d archived report(s)\n", len(names))
	for _, n := range names {
		fmt.Printf("   • %s\n", n)
	}
	return nil
}
