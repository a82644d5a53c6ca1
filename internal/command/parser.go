// Package command turns the free text of a mention into a repost command.
package command

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/nostr-banger/banger-bot/internal/models"
)

// Action is what a mention asks the bot to do
type Action int

const (
	ActionInvalid Action = iota
	ActionSchedule
	ActionCancel
)

func (a Action) String() string {
	switch a {
	case ActionSchedule:
		return "schedule"
	case ActionCancel:
		return "cancel"
	default:
		return "invalid"
	}
}

// MaxRepetitions caps how many reposts a single command may ask for.
const MaxRepetitions = 5

// countWindow is how many tokens on each side of the interval keyword are scanned for a count.
const countWindow = 3

// Command is the parsed form of a mention
type Command struct {
	Action      Action
	Interval    models.Interval
	Repetitions int
}

var intervalKeywords = map[string]models.Interval{
	"minutely": models.Minutely,
	"minute":   models.Minutely,
	"minutes":  models.Minutely,
	"hourly":   models.Hourly,
	"hour":     models.Hourly,
	"hours":    models.Hourly,
	"daily":    models.Daily,
	"day":      models.Daily,
	"days":     models.Daily,
	"weekly":   models.Weekly,
	"week":     models.Weekly,
	"weeks":    models.Weekly,
	"monthly":  models.Monthly,
	"month":    models.Monthly,
	"months":   models.Monthly,
	"yearly":   models.Yearly,
	"year":     models.Yearly,
	"years":    models.Yearly,
}

var countWords = map[string]int{
	"zero":   0,
	"one":    1,
	"two":    2,
	"three":  3,
	"four":   4,
	"five":   5,
	"once":   1,
	"twice":  2,
	"thrice": 3,
}

// Parse interprets mention text. It never fails: text that does not carry a
// usable command yields ActionInvalid.
func Parse(content string) Command {
	words := tokenize(content)

	for _, w := range words {
		if w == "cancel" {
			return Command{Action: ActionCancel}
		}
	}

	if cmd, ok := parseRepeatPattern(words); ok {
		return cmd
	}

	intervalIndex := -1
	for i, w := range words {
		if _, ok := intervalKeywords[w]; ok {
			intervalIndex = i
			break
		}
	}
	if intervalIndex == -1 {
		return Command{Action: ActionInvalid}
	}

	start := max(0, intervalIndex-countWindow)
	end := min(len(words), intervalIndex+countWindow+1)
	for i := start; i < end; i++ {
		count, ok := parseCount(words[i])
		if !ok {
			continue
		}
		return schedule(intervalKeywords[words[intervalIndex]], count)
	}

	return Command{Action: ActionInvalid}
}

// parseRepeatPattern matches "repeat <interval> for <count>". The second
// return value is false when the pattern is absent or incomplete, in which
// case the caller falls back to the keyword window scan.
func parseRepeatPattern(words []string) (Command, bool) {
	repeatIndex := indexOf(words, "repeat", 0)
	if repeatIndex == -1 || repeatIndex+1 >= len(words) {
		return Command{}, false
	}

	interval, ok := intervalKeywords[words[repeatIndex+1]]
	if !ok {
		return Command{}, false
	}

	forIndex := indexOf(words, "for", repeatIndex)
	if forIndex == -1 || forIndex+1 >= len(words) {
		return Command{}, false
	}

	count, ok := parseCount(words[forIndex+1])
	if !ok {
		return Command{}, false
	}
	return schedule(interval, count), true
}

func schedule(interval models.Interval, count int) Command {
	if count <= 0 {
		return Command{Action: ActionInvalid}
	}
	return Command{
		Action:      ActionSchedule,
		Interval:    interval,
		Repetitions: min(count, MaxRepetitions),
	}
}

// parseCount resolves a count token. Digit strings too large to parse
// still count as "more than the cap".
func parseCount(word string) (int, bool) {
	if n, ok := countWords[word]; ok {
		return n, true
	}
	if word == "" || strings.IndexFunc(word, func(r rune) bool { return r < '0' || r > '9' }) != -1 {
		return 0, false
	}

	trimmed := strings.TrimLeft(word, "0")
	if trimmed == "" {
		return 0, true
	}
	if len(trimmed) > 2 {
		return MaxRepetitions, true
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, false
	}
	return n, true
}

func tokenize(content string) []string {
	normalized := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, content)
	return strings.Fields(normalized)
}

func indexOf(words []string, target string, from int) int {
	for i := from; i < len(words); i++ {
		if words[i] == target {
			return i
		}
	}
	return -1
}
