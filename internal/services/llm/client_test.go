package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"therapybridge/internal/services"
)

func completionServer(t *testing.T, choice map[string]any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{"choices": []any{choice}}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClientHealthCheck(t *testing.T) {
	server := completionServer(t, map[string]any{
		"message": map[string]any{"content": `{"ok":true}`},
	})
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestClientSendsModelAndAuth(t *testing.T) {
	var gotModel, gotAuth, gotFormat string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotModel = req.Model
		gotFormat = req.ResponseFormat["type"]
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": `{"ok":true}`}}},
		})
	}))
	defer server.Close()

	base := NewClient(Config{APIKey: "secret", BaseURL: server.URL, Model: "small"})
	deep := base.WithModel("large")
	if _, err := deep.CompleteJSON(context.Background(), "system", "user"); err != nil {
		t.Fatalf("CompleteJSON returned error: %v", err)
	}
	if gotModel != "large" || gotAuth != "Bearer secret" || gotFormat != "json_object" {
		t.Fatalf("unexpected request model=%q auth=%q format=%q", gotModel, gotAuth, gotFormat)
	}
	if base.Model() != "small" {
		t.Fatalf("WithModel mutated the original client: %q", base.Model())
	}
	if base.WithModel("  ").Model() != "small" {
		t.Fatal("blank model should keep the current one")
	}
}

func TestClientCodeFencePayload(t *testing.T) {
	server := completionServer(t, map[string]any{
		"message": map[string]any{"content": "```json\n{\"ok\":true}\n```"},
	})
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestClientToolCallArguments(t *testing.T) {
	server := completionServer(t, map[string]any{
		"finish_reason": "tool_calls",
		"message": map[string]any{
			"content": "",
			"tool_calls": []any{map[string]any{
				"type": "function",
				"id":   "call_1",
				"function": map[string]any{
					"name":      "rate_mood",
					"arguments": `{"mood_score":6.5}`,
				},
			}},
		},
	})
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	content, err := client.CompleteJSON(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("CompleteJSON returned error: %v", err)
	}
	if !strings.Contains(content, "mood_score") {
		t.Fatalf("expected tool call arguments, got %q", content)
	}
}

func TestClientDeltaAndLegacyText(t *testing.T) {
	for name, choice := range map[string]map[string]any{
		"delta": {"delta": map[string]any{"content": `{"ok":true}`}},
		"text":  {"finish_reason": "stop", "text": `{"ok":true}`},
	} {
		t.Run(name, func(t *testing.T) {
			server := completionServer(t, choice)
			client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
			if err := client.HealthCheck(context.Background()); err != nil {
				t.Fatalf("HealthCheck returned error: %v", err)
			}
		})
	}
}

func TestClientEmptyContentHasSnippet(t *testing.T) {
	server := completionServer(t, map[string]any{
		"finish_reason": "stop",
		"message":       map[string]any{"content": ""},
	})
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
	_, err := client.CompleteJSON(context.Background(), "system", "user")
	var empty *EmptyContentError
	if !errors.As(err, &empty) {
		t.Fatalf("expected EmptyContentError, got %v", err)
	}
	if empty.FinishReason != "stop" || !strings.Contains(err.Error(), "response_snippet=") {
		t.Fatalf("unexpected empty-content error %v", err)
	}
}

func TestClientStatusErrorClassification(t *testing.T) {
	cases := []struct {
		status     int
		retryAfter string
		permanent  bool
		hint       time.Duration
	}{
		{http.StatusUnauthorized, "", true, 0},
		{http.StatusNotFound, "", true, 0},
		{http.StatusTooManyRequests, "2", false, 2 * time.Second},
		{http.StatusBadGateway, "", false, 0},
		{http.StatusRequestTimeout, "", false, 0},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tc.retryAfter != "" {
					w.Header().Set("Retry-After", tc.retryAfter)
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer server.Close()

			client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
			_, err := client.CompleteJSON(context.Background(), "system", "user")
			var statusErr *StatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("expected StatusError, got %v", err)
			}
			if services.Permanent(err) != tc.permanent {
				t.Fatalf("Permanent = %v, want %v", services.Permanent(err), tc.permanent)
			}
			if errors.Is(err, services.ErrTransient) == tc.permanent {
				t.Fatalf("transient classification mismatch for %d", tc.status)
			}
			if statusErr.RetryAfterHint() != tc.hint {
				t.Fatalf("RetryAfterHint = %s, want %s", statusErr.RetryAfterHint(), tc.hint)
			}
		})
	}
}

func TestClientMakesSingleAttempt(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
	if _, err := client.CompleteJSON(context.Background(), "system", "user"); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected one request, got %d", calls)
	}
}

func TestClientRequiresAPIKey(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	_, err := client.CompleteJSON(context.Background(), "system", "user")
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestDecodeLLMJSON(t *testing.T) {
	var out struct {
		Score float64 `json:"score"`
	}
	inputs := []string{
		`{"score": 4}`,
		"```json\n{\"score\": 4}\n```",
		"Here you go: {\"score\": 4} hope that helps",
	}
	for _, input := range inputs {
		out.Score = 0
		if err := DecodeLLMJSON(input, &out); err != nil {
			t.Fatalf("DecodeLLMJSON(%q) error: %v", input, err)
		}
		if out.Score != 4 {
			t.Fatalf("DecodeLLMJSON(%q) score = %v", input, out.Score)
		}
	}
	if err := DecodeLLMJSON("   ", &out); err == nil {
		t.Fatal("expected error for empty payload")
	}
	if err := DecodeLLMJSON("no json here", &out); err == nil {
		t.Fatal("expected error for prose payload")
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d, ok := parseRetryAfter("3"); !ok || d != 3*time.Second {
		t.Fatalf("parseRetryAfter(3) = %s, %v", d, ok)
	}
	if _, ok := parseRetryAfter("-1"); ok {
		t.Fatal("negative Retry-After should be ignored")
	}
	if _, ok := parseRetryAfter(""); ok {
		t.Fatal("blank Retry-After should be ignored")
	}
}
