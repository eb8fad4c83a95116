package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/sessionstore"
	"github.com/faryalgulzar-sudo/livekit-real-time-agents/pkg/sessionstore/httpapi"
)

// backend is a minimal in-memory copy of the clinic session routes.
type backend struct {
	mu         sync.Mutex
	data       map[string]map[string]any
	transcript map[string][]string
	finalized  map[string]bool
	nextID     int
}

func newBackend(t *testing.T) (*backend, *httptest.Server) {
	t.Helper()
	b := &backend{
		data:       map[string]map[string]any{},
		transcript: map[string][]string{},
		finalized:  map[string]bool{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			TenantID string `json:"tenant_id"`
		}
		if json.NewDecoder(r.Body).Decode(&body) != nil || body.TenantID == "" {
			http.Error(w, `{"detail":"tenant_id required"}`, http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		b.nextID++
		id := "sess-" + strconv.Itoa(b.nextID)
		b.data[id] = map[string]any{}
		b.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"session_id": id})
	})
	mux.HandleFunc("POST /v1/sessions/{id}/answers", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Field string `json:"field"`
			Value any    `json:"value"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		defer b.mu.Unlock()
		d, ok := b.data[r.PathValue("id")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		d[body.Field] = body.Value
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "saved"})
	})
	mux.HandleFunc("POST /v1/sessions/{id}/transcript", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Text string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		defer b.mu.Unlock()
		b.transcript[r.PathValue("id")] = append(b.transcript[r.PathValue("id")], body.Text)
	})
	mux.HandleFunc("GET /v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		d, ok := b.data[r.PathValue("id")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"session_id": r.PathValue("id"), "collected_data": d})
	})
	mux.HandleFunc("PATCH /v1/sessions/{id}/finalize", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.finalized[r.PathValue("id")] = true
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "finalized"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return b, srv
}

func TestNew_RequiresBaseURL(t *testing.T) {
	t.Parallel()

	if _, err := httpapi.New(""); !errors.Is(err, httpapi.ErrNoBaseURL) {
		t.Fatalf("New error = %v, want ErrNoBaseURL", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	b, srv := newBackend(t)
	c, err := httpapi.New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	id, err := c.CreateSession(ctx, "demo_clinic")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := c.SaveAnswer(ctx, id, "full_name", "Ali Khan"); err != nil {
		t.Fatalf("SaveAnswer: %v", err)
	}
	if err := c.SaveAnswer(ctx, id, "has_medical_history", true); err != nil {
		t.Fatalf("SaveAnswer: %v", err)
	}
	// Same field again: last write wins.
	if err := c.SaveAnswer(ctx, id, "full_name", "Ali Raza"); err != nil {
		t.Fatalf("SaveAnswer: %v", err)
	}
	if err := c.AppendTranscript(ctx, id, "user: hello"); err != nil {
		t.Fatalf("AppendTranscript: %v", err)
	}

	got, err := c.GetCollectedData(ctx, id)
	if err != nil {
		t.Fatalf("GetCollectedData: %v", err)
	}
	if got["full_name"] != "Ali Raza" || got["has_medical_history"] != true || len(got) != 2 {
		t.Errorf("collected = %v", got)
	}

	if err := c.FinalizeSession(ctx, id); err != nil {
		t.Fatalf("FinalizeSession: %v", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.finalized[id] || len(b.transcript[id]) != 1 {
		t.Errorf("finalized = %v, transcript = %v", b.finalized[id], b.transcript[id])
	}
}

func TestSaveAnswerIsIdempotent(t *testing.T) {
	t.Parallel()

	_, srv := newBackend(t)
	c, err := httpapi.New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	id, err := c.CreateSession(ctx, "test_clinic")
	if err != nil {
		t.Fatal(err)
	}
	for range 2 {
		if err := c.SaveAnswer(ctx, id, "full_name", "Ali Khan"); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.SaveAnswer(ctx, id, "has_medical_history", false); err != nil {
		t.Fatal(err)
	}

	got, err := c.GetCollectedData(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got["full_name"] != "Ali Khan" || got["has_medical_history"] != false {
		t.Errorf("collected = %v", got)
	}
}

func TestGetCollectedData_NotFound(t *testing.T) {
	t.Parallel()

	_, srv := newBackend(t)
	c, _ := httpapi.New(srv.URL, httpapi.WithRetry(3, time.Millisecond))
	if _, err := c.GetCollectedData(context.Background(), "missing"); !errors.Is(err, sessionstore.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"session_id": 42})
	}))
	t.Cleanup(srv.Close)

	c, _ := httpapi.New(srv.URL, httpapi.WithRetry(3, time.Millisecond))
	id, err := c.CreateSession(context.Background(), "t")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if id != "42" || hits.Load() != 3 {
		t.Errorf("id = %q after %d hits", id, hits.Load())
	}
}

func TestGivesUpAfterAttempts(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c, _ := httpapi.New(srv.URL, httpapi.WithRetry(3, time.Millisecond))
	if err := c.SaveAnswer(context.Background(), "s1", "phone", "0300"); err == nil {
		t.Fatal("expected error")
	}
	if hits.Load() != 3 {
		t.Errorf("hits = %d, want 3", hits.Load())
	}
}

func TestTimeoutPerAttempt(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() { close(release); srv.Close() })

	c, _ := httpapi.New(srv.URL, httpapi.WithTimeout(20*time.Millisecond), httpapi.WithRetry(2, time.Millisecond))
	start := time.Now()
	if err := c.AppendTranscript(context.Background(), "s1", "hi"); err == nil {
		t.Fatal("expected timeout error")
	}
	if d := time.Since(start); d > 2*time.Second {
		t.Errorf("took %v", d)
	}
}
