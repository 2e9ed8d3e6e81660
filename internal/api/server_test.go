package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nourly/nourly/internal/chat"
	"github.com/nourly/nourly/internal/log"
	"github.com/nourly/nourly/internal/rag"
)

type stubEngine struct {
	resp *chat.Response
	err  error
	last chat.Request
}

func (s *stubEngine) Chat(_ context.Context, req chat.Request) (*chat.Response, error) {
	s.last = req
	return s.resp, s.err
}

type stubIngester struct {
	res rag.IndexResult
	err error
}

func (s *stubIngester) Index(_ context.Context, src rag.Source) (rag.IndexResult, error) {
	return s.res, s.err
}

func newTestServer(t *testing.T, engine chatRunner, ing ingester) *httptest.Server {
	t.Helper()
	srv, err := NewServer(ServerConfig{
		Logger: log.NewNop(),
		Engine: engine,
		Ingest: ing,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestChatEndpoint(t *testing.T) {
	engine := &stubEngine{resp: &chat.Response{
		Text:          "Here is a plan.",
		Source:        chat.SourceGenerated,
		RetrievedDocs: 2,
	}}
	ts := newTestServer(t, engine, nil)

	resp := postJSON(t, ts.URL+"/api/v1/chat", `{
		"user_id": "u1",
		"name": "Ana",
		"coach_id": "c1",
		"coach_name": "Kira",
		"domain_type": "keto",
		"message": "how do I start keto"
	}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body chatResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.Text != "Here is a plan." || body.Source != "generated" || body.RetrievedDocs != 2 {
		t.Errorf("body = %+v", body)
	}
	if body.RequestID == "" {
		t.Error("missing request id")
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}

	if engine.last.User.UserID != "u1" || engine.last.Coach.ID != "c1" {
		t.Errorf("engine got %+v", engine.last)
	}
	if engine.last.Coach.DomainType != "keto" {
		t.Errorf("coach domain = %q", engine.last.Coach.DomainType)
	}
}

func TestChatEndpoint_Validation(t *testing.T) {
	ts := newTestServer(t, &stubEngine{resp: &chat.Response{}}, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing ids", `{"message": "hi"}`, http.StatusBadRequest},
		{"missing message", `{"user_id": "u1", "coach_id": "c1"}`, http.StatusBadRequest},
		{"bad json", `{"user_id": `, http.StatusBadRequest},
		{"unknown field", `{"user_id": "u1", "coach_id": "c1", "message": "hi", "bogus": 1}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/api/v1/chat", tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestChatEndpoint_EngineError(t *testing.T) {
	ts := newTestServer(t, &stubEngine{err: errors.New("store offline: secret details")}, nil)

	resp := postJSON(t, ts.URL+"/api/v1/chat", `{"user_id": "u1", "coach_id": "c1", "message": "hi"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	var body errorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if strings.Contains(body.Message, "secret details") {
		t.Errorf("internal error text leaked: %+v", body)
	}
}

func TestIngestEndpoint(t *testing.T) {
	ing := &stubIngester{res: rag.IndexResult{SourceID: "guide-1", Chunks: 7}}
	ts := newTestServer(t, &stubEngine{resp: &chat.Response{}}, ing)

	resp := postJSON(t, ts.URL+"/api/v1/ingest", `{
		"source_id": "guide-1",
		"coach_id": "c1",
		"text": "some document text"
	}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body ingestResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body.Chunks != 7 || body.SourceID != "guide-1" {
		t.Errorf("body = %+v", body)
	}

	resp = postJSON(t, ts.URL+"/api/v1/ingest", `{"text": "no ids"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for missing ids", resp.StatusCode)
	}
}

func TestIngestEndpoint_DisabledWithoutIndexer(t *testing.T) {
	ts := newTestServer(t, &stubEngine{resp: &chat.Response{}}, nil)
	resp := postJSON(t, ts.URL+"/api/v1/ingest", `{"source_id": "s", "coach_id": "c", "text": "x"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when ingest is disabled", resp.StatusCode)
	}
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t, &stubEngine{resp: &chat.Response{}}, nil)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health status = %d", resp.StatusCode)
	}

	ready, err := http.Get(ts.URL + "/ready")
	if err != nil {
		t.Fatalf("GET /ready: %v", err)
	}
	defer func() { _ = ready.Body.Close() }()
	if ready.StatusCode != http.StatusOK {
		t.Errorf("/ready status = %d without a pool", ready.StatusCode)
	}
}

func TestRateLimiting(t *testing.T) {
	srv, err := NewServer(ServerConfig{
		Logger:    log.NewNop(),
		Engine:    &stubEngine{resp: &chat.Response{Text: "ok"}},
		RateBurst: 2,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	const body = `{"user_id": "u1", "coach_id": "c1", "message": "hi"}`
	statuses := make(map[int]int)
	for range 5 {
		resp := postJSON(t, ts.URL+"/api/v1/chat", body)
		statuses[resp.StatusCode]++
	}
	if statuses[http.StatusTooManyRequests] == 0 {
		t.Errorf("no request was rate limited: %v", statuses)
	}
	if statuses[http.StatusOK] == 0 {
		t.Errorf("all requests were rate limited: %v", statuses)
	}
}
