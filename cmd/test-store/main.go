package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/nbd-wtf/go-nostr"

	"github.com/nostr-banger/banger-bot/internal/config"
	"github.com/nostr-banger/banger-bot/internal/models"
	"github.com/nostr-banger/banger-bot/internal/storage"
)

func main() {
	fmt.Println("🗄️  Banger Bot - Store Smoke Test")
	fmt.Println("================================")

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
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
	fmt.Printf("✅ Opened %s store\n", cfg.StoreDriver)

	if err := run(ctx, store); err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\n✅ Store smoke test completed!")
}

// run writes a throwaway task and mention, reads them back and cleans up
func run(ctx context.Context, store storage.StorageInterface) error {
	now := time.Now()
	pubkey := fmt.Sprintf("smoke-test-%d", now.UnixNano())
	target := nostr.Event{
		ID:        fmt.Sprintf("smoke-%d", now.UnixNano()),
		PubKey:    pubkey,
		CreatedAt: nostr.Timestamp(now.Unix()),
		Kind:      nostr.KindTextNote,
		Tags:      nostr.Tags{},
		Content:   "smoke test",
	}
	task := models.NewTask(target, models.Daily, 1, models.Requester{PubKey: pubkey, Name: "smoke"}, now)

	step("Upsert task", store.UpsertTasks(ctx, []models.Task{task}))

	found, err := store.FindTasksByRequesterAndTarget(ctx, pubkey, target.ID)
	if err != nil {
		return fmt.Errorf("find task: %w", err)
	}
	if len(found) != 1 {
		return fmt.Errorf("expected 1 task, found %d", len(found))
	}
	step("Read task back", nil)

	step("Increment counter", store.IncrementUserTaskCounter(ctx, pubkey))
	count, err := store.GetUserTaskCounter(ctx, pubkey)
	if err != nil || count != 1 {
		return fmt.Errorf("counter = %d, err = %v", count, err)
	}
	step("Decrement counter", store.DecrementUserTaskCounter(ctx, pubkey))

	step("Log mention", store.LogMention(ctx, pubkey, now))
	mentions, err := store.CountRecentMentions(ctx, pubkey, now.Add(-time.Minute))
	if err != nil || mentions != 1 {
		return fmt.Errorf("recent mentions = %d, err = %v", mentions, err)
	}

	deleted, err := store.DeleteTasksByRequester(ctx, pubkey)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	fmt.Printf("   🧹 Removed %d test task(s)\n", deleted)

	active, err := store.CountActiveTasks(ctx)
	if err != nil {
		return fmt.Errorf("count active tasks: %w", err)
	}
	fmt.Printf("   📊 Active tasks in store: %d\n", active)
	return nil
}

func step(name string, err error) {
	if err != nil {
		log.Fatalf("❌ %s: %v", name, err)
	}
	fmt.Printf("   ✅ %s\n", name)
}
