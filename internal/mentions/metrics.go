package mentions

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/nostr-banger/banger-bot/internal/models"
)

// Metrics holds processing counters since process start
type Metrics struct {
	mu sync.RWMutex

	StartedAt         time.Time              `json:"started_at"`
	MentionsProcessed int                    `json:"mentions_processed"`
	Outcomes          map[models.Outcome]int `json:"outcomes"`
	RepostsPublished  int                    `json:"reposts_published"`
	RepostsFailed     int                    `json:"reposts_failed"`
	Panics            int                    `json:"panics"`
	LastMention       time.Time              `json:"last_mention,omitempty"`
}

// NewMetrics creates an empty metrics set
func NewMetrics() *Metrics {
	return &Metrics{
		StartedAt: time.Now(),
		Outcomes:  make(map[models.Outcome]int),
	}
}

// RecordOutcome counts one finished mention
func (m *Metrics) RecordOutcome(outcome models.Outcome, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.MentionsProcessed++
	m.Outcomes[outcome]++
	m.LastMention = at
}

// RecordRepost counts one repost publish attempt
func (m *Metrics) RecordRepost(published bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if published {
		m.RepostsPublished++
	} else {
		m.RepostsFailed++
	}
}

func (m *Metrics) recordPanic() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Panics++
}

// Snapshot returns a copy safe to read without locking
func (m *Metrics) Snapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	outcomes := make(map[models.Outcome]int, len(m.Outcomes))
	for k, v := range m.Outcomes {
		outcomes[k] = v
	}
	return Metrics{
		StartedAt:         m.StartedAt,
		MentionsProcessed: m.MentionsProcessed,
		Outcomes:          outcomes,
		RepostsPublished:  m.RepostsPublished,
		RepostsFailed:     m.RepostsFailed,
		Panics:            m.Panics,
		LastMention:       m.LastMention,
	}
}

// JSON returns the current metrics as indented JSON
func (m *Metrics) JSON() string {
	snapshot := m.Snapshot()
	data, _ := json.MarshalIndent(&snapshot, "", "  ")
	return string(data)
}
