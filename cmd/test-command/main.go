package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nostr-banger/banger-bot/internal/command"
	"github.com/nostr-banger/banger-bot/internal/config"
	"github.com/nostr-banger/banger-bot/internal/messages"
	"github.com/nostr-banger/banger-bot/internal/models"
)

var samples = []string{
	"repeat weekly for 2 weeks",
	"every hour, 4 times",
	"twice monthly",
	"cancel",
	"gm nostr",
}

func main() {
	fmt.Println("🧪 Banger Bot - Command Dry Run")
	fmt.Println("===============================")

	inputs := os.Args[1:]
	if len(inputs) == 0 {
		inputs = samples
	}

	composer := messages.NewComposer(messages.Options{
		Relays:             config.DefaultRelays,
		Location:           time.UTC,
		MaxMentionsPerHour: 10,
		MaxTasksPerUser:    5,
	})

	for _, input := range inputs {
		cmd := command.Parse(input)
		conf := messages.Confirmation{Outcome: models.OutcomeInvalidCommand}

		switch cmd.Action {
		case command.ActionSchedule:
			conf = messages.Confirmation{
				Outcome:     models.OutcomeScheduled,
				Interval:    cmd.Interval,
				Repetitions: cmd.Repetitions,
				NextFire:    time.Now().Add(cmd.Interval.Duration()),
			}
		case command.ActionCancel:
			conf = messages.Confirmation{Outcome: models.OutcomeCancelled, Cancelled: 1}
		}

		fmt.Printf("\n💬 %q\n", input)
		fmt.Printf("   ➜ %s", cmd.Action)
		if cmd.Action == command.ActionSchedule {
			fmt.Printf(" %s x%d", cmd.Interval, cmd.Repetitions)
		}
		fmt.Println()
		fmt.Println("   " + strings.ReplaceAll(composer.ConfirmationText(conf), "\n", "\n   "))
	}
}
