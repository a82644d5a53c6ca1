package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/nostr-banger/banger-bot/internal/config"
	"github.com/nostr-banger/banger-bot/internal/relay"
)

func main() {
	fmt.Println("🔍 Banger Bot - Relay Connectivity Test")
	fmt.Println("=======================================")

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	signer, err := relay.NewSigner(cfg.PrivateKey)
	if err != nil {
		log.Fatalf("Invalid bot key: %v", err)
	}
	fmt.Printf("\n🤖 Bot identity: %s\n", signer.NPub())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	fmt.Println("\n📡 Testing relays...")
	fmt.Println(strings.Repeat("-", 40))

	reachable := 0
	for _, url := range cfg.Relays {
		if testRelay(ctx, url, signer.PublicKey(), cfg.RelayTimeout) {
			reachable++
		}
	}

	fmt.Printf("\n✅ %d of %d relays reachable\n", reachable, len(cfg.Relays))
	if reachable == 0 {
		fmt.Println("\n💡 Next steps:")
		fmt.Println("   • Check RELAYS in your .env file")
		fmt.Println("   • Make sure outbound websocket traffic is allowed")
	}
}

// testRelay looks up the bot profile through a single relay pool
func testRelay(ctx context.Context, url, pubkey string, timeout time.Duration) bool {
	fmt.Printf("🔸 Testing %s... ", url)

	pool := relay.NewPool([]string{url}, relay.Options{Timeout: timeout})
	defer pool.Close()

	start := time.Now()
	profile, err := pool.FetchProfile(ctx, pubkey)
	if err != nil {
		fmt.Printf("❌ ERROR: %v\n", err)
		return false
	}

	fmt.Printf("✅ OK (%v)\n", time.Since(start).Round(time.Millisecond))
	if profile != nil {
		fmt.Printf("   📝 Profile: %s\n", profile.Name)
	} else {
		fmt.Println("   ⚠️  No profile published on this relay")
	}
	return true
}
