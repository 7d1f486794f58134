package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/starCarlos/HotSpot-Hunter/internal/config"
	"github.com/starCarlos/HotSpot-Hunter/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(t *testing.T, cfg config.ClassifierConfig) *Client {
	t.Helper()
	c, err := New(cfg, discardLogger())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	c.retryDelay = time.Millisecond
	return c
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	t.Parallel()

	_, err := New(config.ClassifierConfig{Provider: "nonsense", APIKey: "k"}, discardLogger())
	var cfgErr *domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigurationError", err)
	}
}

func TestNewRejectsMissingKey(t *testing.T) {
	t.Parallel()

	if _, err := New(config.ClassifierConfig{Provider: "deepseek"}, discardLogger()); err == nil {
		t.Fatal("expected error without api key")
	}
	// Self-hosted providers run without credentials.
	if _, err := New(config.ClassifierConfig{Provider: "ollama", Model: "llama3"}, discardLogger()); err != nil {
		t.Fatalf("ollama without key: %v", err)
	}
}

func TestChatOpenAICompatible(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("auth header = %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "deepseek-chat" || len(req.Messages) != 1 {
			t.Errorf("request = %+v", req)
		}
		io.WriteString(w, `{"choices": [{"message": {"content": "the answer"}}]}`)
	}))
	defer srv.Close()

	c := testClient(t, config.ClassifierConfig{
		Provider: "deepseek", Model: "deepseek-chat", APIKey: "secret", BaseURL: srv.URL,
	})
	answer, err := c.Chat(context.Background(), "the prompt")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if answer != "the answer" {
		t.Fatalf("answer = %q", answer)
	}
}

func TestChatRetriesTransientStatus(t *testing.T) {
	t.Parallel()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, `{"choices": [{"message": {"content": "recovered"}}]}`)
	}))
	defer srv.Close()

	c := testClient(t, config.ClassifierConfig{Provider: "deepseek", APIKey: "k", BaseURL: srv.URL})
	answer, err := c.Chat(context.Background(), "p")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if answer != "recovered" || calls != 3 {
		t.Fatalf("answer = %q after %d calls", answer, calls)
	}
}

func TestChatDoesNotRetryClientError(t *testing.T) {
	t.Parallel()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := testClient(t, config.ClassifierConfig{Provider: "deepseek", APIKey: "k", BaseURL: srv.URL})
	if _, err := c.Chat(context.Background(), "p"); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want no retry on 401", calls)
	}
}

func TestChatGivesUpAfterRetries(t *testing.T) {
	t.Parallel()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testClient(t, config.ClassifierConfig{Provider: "deepseek", APIKey: "k", BaseURL: srv.URL})
	_, err := c.Chat(context.Background(), "p")
	var remote *domain.TransientRemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("err = %v", err)
	}
	if calls != maxRetries+1 {
		t.Fatalf("calls = %d, want %d", calls, maxRetries+1)
	}
}

func TestChatMalformedResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices": []}`)
	}))
	defer srv.Close()

	c := testClient(t, config.ClassifierConfig{Provider: "deepseek", APIKey: "k", BaseURL: srv.URL})
	_, err := c.Chat(context.Background(), "p")
	var malformed *domain.MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("err = %v, want MalformedResponseError", err)
	}
}

func TestChatGemini(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("key"); got != "gk" {
			t.Errorf("key = %q", got)
		}
		var req geminiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Contents) != 1 || req.Contents[0].Parts[0].Text != "the prompt" {
			t.Errorf("request = %+v", req)
		}
		io.WriteString(w, `{"candidates": [{"content": {"parts": [{"text": "gemini answer"}]}}]}`)
	}))
	defer srv.Close()

	c := testClient(t, config.ClassifierConfig{Provider: "gemini", Model: "gemini-1.5-flash", APIKey: "gk"})
	c.geminiURL = srv.URL

	answer, err := c.Chat(context.Background(), "the prompt")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if answer != "gemini answer" {
		t.Fatalf("answer = %q", answer)
	}
}
