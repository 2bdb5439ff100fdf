package generation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/natal-chart/internal/domain"
)

func newGemini(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewGeminiClient(GeminiConfig{
		APIKey:          "test-key",
		Model:           "models/gemini-test",
		BaseURL:         srv.URL,
		Timeout:         5 * time.Second,
		SafetyThreshold: "BLOCK_NONE",
	}, nil)
	if err != nil {
		t.Fatalf("NewGeminiClient() error = %v", err)
	}
	return c
}

func TestGeminiGenerateSuccess(t *testing.T) {
	var got generateRequest
	c := newGemini(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-test:generateContent" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Hello "},{"text":"chart"}]},"finishReason":"STOP"}]}`))
	})

	text, err := c.Generate(context.Background(), Prompt{System: "be kind", User: "interpret"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != "Hello chart" {
		t.Errorf("text = %q", text)
	}
	if got.SystemInstruction == nil || got.SystemInstruction.Parts[0].Text != "be kind" {
		t.Errorf("system instruction not sent: %+v", got.SystemInstruction)
	}
	if len(got.SafetySettings) != len(harmCategories) {
		t.Fatalf("safety settings = %d, want %d", len(got.SafetySettings), len(harmCategories))
	}
	for _, s := range got.SafetySettings {
		if s.Threshold != "BLOCK_NONE" {
			t.Errorf("threshold = %q", s.Threshold)
		}
	}
}

func TestGeminiGenerateBlocked(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		reason string
	}{
		{"prompt feedback", `{"promptFeedback":{"blockReason":"SAFETY"}}`, "SAFETY"},
		{"no candidates", `{"candidates":[]}`, "empty response"},
		{"empty text with reason", `{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`, "SAFETY"},
		{"empty text on stop", `{"candidates":[{"content":{"parts":[{"text":"  "}]},"finishReason":"STOP"}]}`, "empty response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newGemini(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.Generate(context.Background(), Prompt{User: "x"})
			var blocked *BlockedError
			if !errors.As(err, &blocked) {
				t.Fatalf("err = %v, want BlockedError", err)
			}
			if blocked.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", blocked.Reason, tt.reason)
			}
		})
	}
}

func TestGeminiGenerateHTTPError(t *testing.T) {
	c := newGemini(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
	})
	_, err := c.Generate(context.Background(), Prompt{User: "x"})
	var f *FailedError
	if !errors.As(err, &f) {
		t.Fatalf("err = %v, want FailedError", err)
	}
	if !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("err = %v, want upstream message", err)
	}
}

func TestGeminiGenerateTimeout(t *testing.T) {
	c := newGemini(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Generate(ctx, Prompt{User: "x"})
	var f *FailedError
	if !errors.As(err, &f) {
		t.Fatalf("err = %v, want FailedError", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded in chain", err)
	}
	if got := Placeholder(err); got != domain.FailurePlaceholder("timeout") {
		t.Errorf("Placeholder() = %q", got)
	}
}

func TestNewGeminiClientRequiresKey(t *testing.T) {
	if _, err := NewGeminiClient(GeminiConfig{APIKey: "  "}, nil); err == nil {
		t.Fatal("expected error for blank key")
	}
}

func TestOpenAIGenerate(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":" reading "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/", Model: "m"}, nil)
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v", err)
	}
	text, err := c.Generate(context.Background(), Prompt{System: "sys", User: "usr"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != "reading" {
		t.Errorf("text = %q", text)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "usr" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestOpenAIGenerateFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		blocked bool
	}{
		{"server error", http.StatusBadGateway, `oops`, false},
		{"bad json", http.StatusOK, `{`, false},
		{"no choices", http.StatusOK, `{"choices":[]}`, true},
		{"refusal", http.StatusOK, `{"choices":[{"message":{"refusal":"no"}}]}`, true},
		{"length", http.StatusOK, `{"choices":[{"message":{"content":""},"finish_reason":"length"}]}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, err := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL, Model: "m"}, nil)
			if err != nil {
				t.Fatalf("NewOpenAIClient() error = %v", err)
			}
			_, err = c.Generate(context.Background(), Prompt{User: "x"})
			var blocked *BlockedError
			var f *FailedError
			if tt.blocked && !errors.As(err, &blocked) {
				t.Fatalf("err = %v, want BlockedError", err)
			}
			if !tt.blocked && !errors.As(err, &f) {
				t.Fatalf("err = %v, want FailedError", err)
			}
		})
	}
}

func TestPlaceholder(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&BlockedError{Reason: "SAFETY"}, "blocked: SAFETY"},
		{&BlockedError{}, "blocked"},
		{&FailedError{Err: errors.New("dial tcp")}, "unavailable"},
		{Disabled{}.mustFail(), "unavailable"},
	}
	for _, tt := range tests {
		got := Placeholder(tt.err)
		reason, ok := domain.ParseFailurePlaceholder(got)
		if !ok || reason != tt.want {
			t.Errorf("Placeholder(%v) = %q, want reason %q", tt.err, got, tt.want)
		}
	}
}

func (d Disabled) mustFail() error {
	_, err := d.Generate(context.Background(), Prompt{})
	return err
}
