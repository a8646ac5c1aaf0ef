package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare json", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"plain fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  \n```json\n{\"a\":1}\n```\n  ", `{"a":1}`},
		{"unclosed fence", "```json\n{\"a\":1}", `{"a":1}`},
		{"not json at all", "I cannot help with that.", "I cannot help with that."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripFences(tt.in); got != tt.want {
				t.Errorf("StripFences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		Level string  `json:"risk_level"`
		Score float64 `json:"score"`
	}

	raw := "```json\n{\"risk_level\": \"High\", \"score\": 0.82}\n```"
	if err := DecodeJSON(raw, &out); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if out.Level != "High" || out.Score != 0.82 {
		t.Errorf("unexpected decode result: %+v", out)
	}

	if err := DecodeJSON("the model refused", &out); err == nil {
		t.Error("Expected error for non-JSON text")
	}
}

func TestDisabledClient(t *testing.T) {
	_, err := Disabled{}.Invoke(context.Background(), "sys", "prompt")
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Expected ErrDisabled, got %v", err)
	}
}

func TestAnthropic_Invoke(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing anthropic-version header")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","content":[{"type":"text","text":"{\"ok\":true}"}]}`))
	}))
	defer srv.Close()

	client, err := NewAnthropic(AnthropicConfig{
		APIKey:  "test-key",
		Model:   "test-model",
		BaseURL: srv.URL,
	})
	if err != nil {
		t.Fatalf("NewAnthropic: %v", err)
	}

	text, err := client.Invoke(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if text != `{"ok":true}` {
		t.Errorf("unexpected response text %q", text)
	}
	if gotBody["system"] != "system prompt" {
		t.Errorf("system prompt not sent, got %v", gotBody["system"])
	}
}

func TestAnthropic_APIError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, `{"error":{"type":"invalid_request_error"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewAnthropic(AnthropicConfig{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewAnthropic: %v", err)
	}

	if _, err := client.Invoke(context.Background(), "sys", "prompt"); err == nil {
		t.Error("Expected error for 400 response")
	}
	if calls != 1 {
		t.Errorf("client errors must not be retried, got %d calls", calls)
	}
}

func TestAnthropic_RetriesRateLimit(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, `{"error":{"type":"rate_limit_error"}}`, http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","content":[{"type":"text","text":"recovered"}]}`))
	}))
	defer srv.Close()

	client, err := NewAnthropic(AnthropicConfig{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewAnthropic: %v", err)
	}
	client.retryBaseDelay = time.Millisecond

	text, err := client.Invoke(context.Background(), "sys", "prompt")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if text != "recovered" {
		t.Errorf("unexpected response text %q", text)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestAnthropic_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client, err := NewAnthropic(AnthropicConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Timeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewAnthropic: %v", err)
	}
	client.maxAttempts = 1

	if _, err := client.Invoke(context.Background(), "sys", "prompt"); err == nil {
		t.Error("Expected timeout error")
	}
}

func TestAnthropic_RequiresKey(t *testing.T) {
	if _, err := NewAnthropic(AnthropicConfig{}); err == nil {
		t.Error("Expected error when API key is missing")
	}
}
