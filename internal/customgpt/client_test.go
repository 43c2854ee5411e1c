package customgpt

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(srv *httptest.Server) *Client {
	c := New(srv.URL, "test-key", "42", 0)
	c.SetHTTPClient(srv.Client())
	c.retryDelay = time.Millisecond
	return c
}

func TestCreateConversation(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"session_id": 98765},
		})
	}))
	defer srv.Close()

	id, err := newTestClient(srv).CreateConversation(context.Background())
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if id != "98765" {
		t.Errorf("session id = %q, want 98765", id)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("authorization = %q, want bearer token", gotAuth)
	}
	if gotPath != "/projects/42/conversations" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestCreateConversationStringSessionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"session_id":"abc-123"}}`))
	}))
	defer srv.Close()

	id, err := newTestClient(srv).CreateConversation(context.Background())
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if id != "abc-123" {
		t.Errorf("session id = %q, want abc-123", id)
	}
}

func TestAsk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/projects/42/conversations/sess-1/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["prompt"] != "what is this" {
			t.Errorf("prompt = %v", req["prompt"])
		}
		if req["stream"] != false {
			t.Errorf("stream = %v, want false", req["stream"])
		}
		w.Write([]byte(`{"data":{"openai_response":"an answer","citations":[11,12]}}`))
	}))
	defer srv.Close()

	ans, err := newTestClient(srv).Ask(context.Background(), "sess-1", "what is this")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if ans.Content != "an answer" {
		t.Errorf("content = %q", ans.Content)
	}
	if len(ans.Citations) != 2 || ans.Citations[0] != "11" {
		t.Errorf("citations = %v, want [11 12]", ans.Citations)
	}
}

func TestAskProviderRateLimited(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Ask(context.Background(), "sess-1", "hi")
	if !errors.Is(err, ErrProviderRateLimited) {
		t.Fatalf("error = %v, want ErrProviderRateLimited", err)
	}
	// A 429 is not transient from our side; retrying would only dig deeper.
	if calls != 1 {
		t.Errorf("server hit %d times, want 1", calls)
	}
}

func TestAskRetriesServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"data":{"openai_response":"late answer"}}`))
	}))
	defer srv.Close()

	ans, err := newTestClient(srv).Ask(context.Background(), "sess-1", "hi")
	if err != nil {
		t.Fatalf("Ask failed after retries: %v", err)
	}
	if ans.Content != "late answer" {
		t.Errorf("content = %q", ans.Content)
	}
	if calls != 3 {
		t.Errorf("server hit %d times, want 3", calls)
	}
}

func TestAskExhaustedRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Ask(context.Background(), "sess-1", "hi")
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("error = %v, want ErrProviderUnavailable", err)
	}
}

func TestAskClientErrorNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Ask(context.Background(), "gone", "hi")
	if err == nil {
		t.Fatal("Ask succeeded against a 404")
	}
	if errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("404 classified as transient: %v", err)
	}
	if calls != 1 {
		t.Errorf("server hit %d times, want 1", calls)
	}
}
