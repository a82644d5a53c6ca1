package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nostr-banger/banger-bot/internal/models"
	"github.com/nostr-banger/banger-bot/internal/relay"
)

type MockTaskAdmin struct {
	mock.Mock
}

func (m *MockTaskAdmin) Sweep(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockTaskAdmin) CancelUserTasks(ctx context.Context, pubkey string) int {
	args := m.Called(ctx, pubkey)
	return args.Int(0)
}

func (m *MockTaskAdmin) Snapshot() []models.Task {
	args := m.Called()
	return args.Get(0).([]models.Task)
}

type staticMetrics string

func (s staticMetrics) GetMetrics() string { return string(s) }

type staticRelays map[string]relay.State

func (s staticRelays) Status() map[string]relay.State { return s }

const testAdminToken = "s3cret-operator-token"

func newRouter(tasks *MockTaskAdmin, relays staticRelays) *mux.Router {
	router := mux.NewRouter()
	registerRoutes(router, staticMetrics(`{"mentions_processed":3}`), tasks, relays, testAdminToken)
	return router
}

// serve sends an operator-authenticated request
func serve(router *mux.Router, method, path string) *httptest.ResponseRecorder {
	return serveWithAuth(router, method, path, "Bearer "+testAdminToken)
}

func serveWithAuth(router *mux.Router, method, path, authorization string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name     string
		relays   staticRelays
		expected string
	}{
		{"One relay connected", staticRelays{"wss://a": relay.StateConnected, "wss://b": relay.StateGaveUp}, "healthy"},
		{"No relay connected", staticRelays{"wss://a": relay.StateConnecting}, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(newRouter(&MockTaskAdmin{}, tt.relays), http.MethodGet, "/health")
			require.Equal(t, http.StatusOK, rec.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.expected, body["status"])
		})
	}
}

func TestMetricsHandler(t *testing.T) {
	rec := serve(newRouter(&MockTaskAdmin{}, staticRelays{}), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"mentions_processed":3}`, rec.Body.String())
}

func TestTasksHandler(t *testing.T) {
	tasks := &MockTaskAdmin{}
	task := models.NewTask(nostr.Event{ID: "target1"}, models.Daily, 3, models.Requester{PubKey: "abc", Name: "alice"}, time.Now())
	tasks.On("Snapshot").Return([]models.Task{task})

	rec := serve(newRouter(tasks, staticRelays{}), http.MethodGet, "/tasks")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count int        `json:"count"`
		Tasks []taskView `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "target1", body.Tasks[0].TargetEventID)
	assert.Equal(t, "daily", body.Tasks[0].Interval)
	assert.Equal(t, "alice", body.Tasks[0].Requester)
}

func TestSweepHandler(t *testing.T) {
	tasks := &MockTaskAdmin{}
	done := make(chan struct{})
	tasks.On("Sweep", mock.Anything).Run(func(mock.Arguments) { close(done) })

	rec := serve(newRouter(tasks, staticRelays{}), http.MethodPost, "/sweep")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweep was not triggered")
	}

	rec = serve(newRouter(tasks, staticRelays{}), http.MethodGet, "/sweep")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCancelRequesterHandler(t *testing.T) {
	pubkey, err := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	require.NoError(t, err)
	npub, err := nip19.EncodePublicKey(pubkey)
	require.NoError(t, err)

	tasks := &MockTaskAdmin{}
	tasks.On("CancelUserTasks", mock.Anything, pubkey).Return(2)
	router := newRouter(tasks, staticRelays{})

	for _, key := range []string{pubkey, npub} {
		rec := serve(router, http.MethodDelete, "/requesters/"+key+"/tasks")
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, float64(2), body["cancelled"])
		assert.Equal(t, pubkey, body["pubkey"])
	}

	rec := serve(router, http.MethodDelete, "/requesters/not-a-key/tasks")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	tasks.AssertNumberOfCalls(t, "CancelUserTasks", 2)
}

func TestOperatorRoutesRequireToken(t *testing.T) {
	pubkey, err := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	require.NoError(t, err)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/sweep"},
		{http.MethodGet, "/tasks"},
		{http.MethodDelete, "/requesters/" + pubkey + "/tasks"},
	}
	tests := []struct {
		name          string
		authorization string
	}{
		{"No header", ""},
		{"Wrong token", "Bearer wrong-token"},
		{"Token without scheme", testAdminToken},
		{"Basic scheme", "Basic " + testAdminToken},
	}

	tasks := &MockTaskAdmin{}
	router := newRouter(tasks, staticRelays{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, route := range routes {
				rec := serveWithAuth(router, route.method, route.path, tt.authorization)
				assert.Equal(t, http.StatusUnauthorized, rec.Code, route.path)
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
			}
		})
	}

	// no operator action reached the scheduler
	tasks.AssertNotCalled(t, "Sweep", mock.Anything)
	tasks.AssertNotCalled(t, "Snapshot")
	tasks.AssertNotCalled(t, "CancelUserTasks", mock.Anything, mock.Anything)

	// health and metrics stay public
	assert.Equal(t, http.StatusOK, serveWithAuth(router, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, serveWithAuth(router, http.MethodGet, "/metrics", "").Code)
}

func TestOperatorRoutesDisabledWithoutToken(t *testing.T) {
	tasks := &MockTaskAdmin{}
	router := mux.NewRouter()
	registerRoutes(router, staticMetrics(`{}`), tasks, staticRelays{}, "")

	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodPost, "/sweep").Code)
	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, "/tasks").Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/health").Code)
	tasks.AssertNotCalled(t, "Sweep", mock.Anything)
}
