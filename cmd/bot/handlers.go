package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/sirupsen/logrus"

	"github.com/nostr-banger/banger-bot/internal/models"
	"github.com/nostr-banger/banger-bot/internal/relay"
)

type metricsSource interface {
	GetMetrics() string
}

type taskAdmin interface {
	Sweep(ctx context.Context)
	CancelUserTasks(ctx context.Context, pubkey string) int
	Snapshot() []models.Task
}

type relayStatus interface {
	Status() map[string]relay.State
}

// registerRoutes wires the public health routes and, when adminToken is set,
// the operator routes behind bearer-token auth
func registerRoutes(router *mux.Router, metrics metricsSource, tasks taskAdmin, relays relayStatus, adminToken string) {
	router.HandleFunc("/health", healthCheckHandler(relays)).Methods("GET")
	router.HandleFunc("/metrics", metricsHandler(metrics)).Methods("GET")

	if adminToken == "" {
		logrus.Warn("ADMIN_TOKEN is not set, operator routes are disabled")
		return
	}
	auth := adminAuth(adminToken)
	router.Handle("/sweep", auth(sweepHandler(tasks))).Methods("POST")
	router.Handle("/tasks", auth(tasksHandler(tasks))).Methods("GET")
	router.Handle("/requesters/{pubkey}/tasks", auth(cancelRequesterHandler(tasks))).Methods("DELETE")
}

// adminAuth rejects requests without "Authorization: Bearer <token>"
func adminAuth(token string) mux.MiddlewareFunc {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
				logrus.WithFields(logrus.Fields{
					"path":   r.URL.Path,
					"remote": r.RemoteAddr,
				}).Warn("Rejected unauthorized operator request")
				w.Header().Set("WWW-Authenticate", `Bearer realm="operator"`)
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.Errorf("Failed to write response: %v", err)
	}
}

func healthCheckHandler(relays relayStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := relays.Status()
		connected := 0
		for _, state := range status {
			if state == relay.StateConnected {
				connected++
			}
		}

		health := "healthy"
		if connected == 0 {
			health = "degraded"
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":    health,
			"relays":    status,
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}

func metricsHandler(metrics metricsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(metrics.GetMetrics()))
	}
}

func sweepHandler(tasks taskAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		go tasks.Sweep(context.Background())
		writeJSON(w, http.StatusAccepted, map[string]string{"message": "Sweep triggered successfully"})
	}
}

type taskView struct {
	ID                   string    `json:"id"`
	TargetEventID        string    `json:"target_event_id"`
	Requester            string    `json:"requester"`
	Interval             string    `json:"interval"`
	RepetitionsRemaining int       `json:"repetitions_remaining"`
	NextFireTime         time.Time `json:"next_fire_time"`
}

func tasksHandler(tasks taskAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := tasks.Snapshot()
		views := make([]taskView, 0, len(snapshot))
		for _, task := range snapshot {
			interval, _ := task.Interval()
			views = append(views, taskView{
				ID:                   task.ID,
				TargetEventID:        task.TargetID(),
				Requester:            task.Requester.Name,
				Interval:             interval.String(),
				RepetitionsRemaining: task.RepetitionsRemaining,
				NextFireTime:         task.NextFireTime,
			})
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"count": len(views), "tasks": views})
	}
}

func cancelRequesterHandler(tasks taskAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pubkey, ok := parsePubKey(mux.Vars(r)["pubkey"])
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "pubkey must be hex or npub"})
			return
		}

		n := tasks.CancelUserTasks(r.Context(), pubkey)
		logrus.WithField("pubkey", pubkey).Infof("Operator cancelled %d tasks", n)
		writeJSON(w, http.StatusOK, map[string]interface{}{"pubkey": pubkey, "cancelled": n})
	}
}

// parsePubKey accepts a 64-char hex key or an npub
func parsePubKey(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "npub1") {
		prefix, value, err := nip19.Decode(raw)
		if err != nil || prefix != "npub" {
			return "", false
		}
		pubkey, ok := value.(string)
		return pubkey, ok
	}
	return raw, nostr.IsValid32ByteHex(raw)
}
