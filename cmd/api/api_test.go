package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/carsgate/portal-engine/engine/domain"
	"github.com/carsgate/portal-engine/engine/remote"
	"github.com/carsgate/portal-engine/engine/store"
	enginesync "github.com/carsgate/portal-engine/engine/sync"
	"github.com/carsgate/portal-engine/pkg/metrics"
	"github.com/carsgate/portal-engine/pkg/resilience"
)

// memRemote is a minimal in-memory remote store for wiring tests.
type memRemote struct {
	mu   sync.Mutex
	rows map[string]remote.Record
}

func newMemRemote() *memRemote {
	return &memRemote{rows: make(map[string]remote.Record)}
}

func (m *memRemote) Insert(_ context.Context, records []remote.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		for _, existing := range m.rows {
			if existing.URL == r.URL {
				return remote.ErrDuplicateURL
			}
		}
		m.rows[r.ID] = r
	}
	return nil
}

func (m *memRemote) Update(_ context.Context, id string, _ remote.Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return remote.ErrNotFound
	}
	return nil
}

func (m *memRemote) Get(_ context.Context, id string) (remote.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return remote.Record{}, remote.ErrNotFound
	}
	return r, nil
}

func (m *memRemote) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

func (m *memRemote) DeleteOwned(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = make(map[string]remote.Record)
	return nil
}

func (m *memRemote) List(context.Context) ([]remote.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]remote.Record, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	return out, nil
}

func (m *memRemote) ExistingURLs(_ context.Context, urls []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool)
	for _, u := range urls {
		for _, r := range m.rows {
			if r.URL == u {
				out[u] = true
			}
		}
	}
	return out, nil
}

type stubExtractor struct{}

func (stubExtractor) Analyze(context.Context, string, string) (json.RawMessage, error) {
	return json.RawMessage(`{"success":true,"data":{"title":"2019 Toyota Camry"}}`), nil
}

func newTestServer(t *testing.T) (*server, *store.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), &slog.HandlerOptions{Level: slog.LevelError}))
	st := store.New(newMemRemote(), stubExtractor{}, store.WithLogger(logger))
	sub := enginesync.New(st, logger, nil)
	srv := newServer(st, sub, metrics.New(), logger)
	// Tests fire requests back to back; don't let the batch limiter bite.
	srv.importLimiter = resilience.NewLimiter(resilience.LimiterOpts{Rate: 1000, Burst: 1000})
	return srv, st
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestImportAndAnalyzeFlow(t *testing.T) {
	srv, st := newTestServer(t)
	h := srv.handler("*")

	rec := doJSON(t, h, http.MethodPost, "/api/posts/import", ImportRequest{
		Entries: []domain.ImportEntry{{URL: "https://cars.example.com/lot/1", Source: "copart"}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("import status = %d, body %s", rec.Code, rec.Body)
	}

	posts := st.Posts()
	if len(posts) != 1 {
		t.Fatalf("posts = %d", len(posts))
	}
	id := posts[0].ID

	rec = doJSON(t, h, http.MethodPut, "/api/posts/"+id+"/raw", RawRequest{Text: "2019 Toyota Camry, clean"})
	if rec.Code != http.StatusOK {
		t.Fatalf("save raw = %d, body %s", rec.Code, rec.Body)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/posts/"+id+"/analyze", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("analyze = %d, body %s", rec.Code, rec.Body)
	}
	var p domain.Post
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode analyze response: %v", err)
	}
	if p.Status != domain.StatusParsed || p.Step != domain.StepDetails {
		t.Fatalf("post = status %q step %q", p.Status, p.Step)
	}
}

func TestAnalyzeMissingPost(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.handler("*")

	rec := doJSON(t, h, http.MethodPost, "/api/posts/nope/analyze", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestImportValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.handler("*")

	rec := doJSON(t, h, http.MethodPost, "/api/posts/import", ImportRequest{
		Entries: []domain.ImportEntry{{URL: "not a url"}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/api/posts/import", ImportRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty batch status = %d, want 400", rec.Code)
	}
}

func TestWorkflowGate(t *testing.T) {
	srv, st := newTestServer(t)
	h := srv.handler("*")

	doJSON(t, h, http.MethodPost, "/api/posts/import", ImportRequest{
		Entries: []domain.ImportEntry{{URL: "https://cars.example.com/lot/2"}},
	})
	id := st.Posts()[0].ID

	// Raw step incomplete: advancing must be refused.
	rec := doJSON(t, h, http.MethodPost, "/api/posts/"+id+"/workflow/next", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("gate status = %d, want 409", rec.Code)
	}

	// Backing up from the first step is refused too.
	rec = doJSON(t, h, http.MethodPost, "/api/posts/"+id+"/workflow/prev", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("prev at first step = %d, want 409", rec.Code)
	}
}

func TestResetRequiresConfirm(t *testing.T) {
	srv, st := newTestServer(t)
	h := srv.handler("*")

	doJSON(t, h, http.MethodPost, "/api/posts/import", ImportRequest{
		Entries: []domain.ImportEntry{{URL: "https://cars.example.com/lot/3"}},
	})

	rec := doJSON(t, h, http.MethodDelete, "/api/posts", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unconfirmed reset = %d, want 400", rec.Code)
	}
	rec = doJSON(t, h, http.MethodDelete, "/api/posts?confirm=true", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset = %d, body %s", rec.Code, rec.Body)
	}
	if len(st.Posts()) != 0 {
		t.Fatal("posts survived reset")
	}
}

func TestRejectEndpoint(t *testing.T) {
	srv, st := newTestServer(t)
	h := srv.handler("*")

	doJSON(t, h, http.MethodPost, "/api/posts/import", ImportRequest{
		Entries: []domain.ImportEntry{{URL: "https://cars.example.com/lot/4"}},
	})
	id := st.Posts()[0].ID

	rec := doJSON(t, h, http.MethodPost, "/api/posts/"+id+"/reject", RejectRequest{Reason: "duplicate listing"})
	if rec.Code != http.StatusOK {
		t.Fatalf("reject = %d", rec.Code)
	}
	p, _ := st.Get(id)
	if p.Status != domain.StatusRejected || p.RejectionReason != "duplicate listing" {
		t.Fatalf("post = %+v", p)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/posts/"+id+"/undo-reject", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("undo = %d", rec.Code)
	}
}

func TestActiveNavigation(t *testing.T) {
	srv, st := newTestServer(t)
	h := srv.handler("*")

	var entries []domain.ImportEntry
	for i := 0; i < 3; i++ {
		entries = append(entries, domain.ImportEntry{URL: fmt.Sprintf("https://cars.example.com/lot/nav-%d", i)})
	}
	doJSON(t, h, http.MethodPost, "/api/posts/import", ImportRequest{Entries: entries})

	first := st.Posts()[0].ID
	rec := doJSON(t, h, http.MethodPost, "/api/posts/active", ActiveRequest{ID: first})
	if rec.Code != http.StatusOK {
		t.Fatalf("set active = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/api/posts/active/next", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("next = %d", rec.Code)
	}
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["active"] == first || resp["active"] == "" {
		t.Fatalf("active after next = %q", resp["active"])
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.handler("*")

	rec := doJSON(t, h, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["status"] != "ok" {
		t.Fatalf("body = %s", rec.Body)
	}
	if online, ok := resp["online"].(bool); !ok || online {
		t.Fatalf("online = %v, want false without a feed connection", resp["online"])
	}
}
