package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel   = "gemini-1.5-flash-latest"
)

var harmCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
}

// GeminiConfig configures GeminiClient.
type GeminiConfig struct {
	APIKey          string
	Model           string
	BaseURL         string
	Timeout         time.Duration
	MaxOutputTokens int
	Temperature     float64
	// SafetyThreshold applies to every harm category, e.g. "BLOCK_NONE".
	SafetyThreshold string
}

// GeminiClient calls the Gemini generateContent API.
type GeminiClient struct {
	cfg        GeminiConfig
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Generator = (*GeminiClient)(nil)

// NewGeminiClient constructs a client. The API key is required.
func NewGeminiClient(cfg GeminiConfig, logger *slog.Logger) (*GeminiClient, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGeminiBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	SafetySettings    []safetySetting   `json:"safetySettings,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends the prompt and returns the concatenated text of the first candidate.
func (c *GeminiClient) Generate(ctx context.Context, p Prompt) (string, error) {
	reqBody := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: p.User}}}},
	}
	if strings.TrimSpace(p.System) != "" {
		reqBody.SystemInstruction = &content{Parts: []part{{Text: p.System}}}
	}
	if c.cfg.SafetyThreshold != "" {
		for _, cat := range harmCategories {
			reqBody.SafetySettings = append(reqBody.SafetySettings, safetySetting{Category: cat, Threshold: c.cfg.SafetyThreshold})
		}
	}
	if c.cfg.Temperature > 0 || c.cfg.MaxOutputTokens > 0 {
		reqBody.GenerationConfig = &generationConfig{
			Temperature:     c.cfg.Temperature,
			MaxOutputTokens: c.cfg.MaxOutputTokens,
		}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", failed("marshal request: %w", err)
	}

	model := strings.TrimPrefix(strings.TrimSpace(c.cfg.Model), "models/")
	url := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(c.cfg.BaseURL, "/"), model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", failed("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", failed("http call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", failed("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return "", failed("gemini api error: %s", errResp.Error.Message)
		}
		return "", failed("gemini api error: %s", resp.Status)
	}

	var out generateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", failed("decode response: %w", err)
	}

	if reason := out.PromptFeedback.BlockReason; reason != "" {
		c.logger.Warn("Gemini prompt blocked", "reason", reason, "prompt_prefix", prefix(p.User, 100))
		return "", &BlockedError{Reason: reason}
	}
	if len(out.Candidates) == 0 {
		c.logger.Warn("Gemini returned no candidates", "prompt_prefix", prefix(p.User, 100))
		return "", &BlockedError{Reason: "empty response"}
	}

	cand := out.Candidates[0]
	var b strings.Builder
	for _, pt := range cand.Content.Parts {
		b.WriteString(pt.Text)
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		reason := cand.FinishReason
		if reason == "" || reason == "STOP" {
			reason = "empty response"
		}
		c.logger.Warn("Gemini candidate has no text", "finish_reason", cand.FinishReason)
		return "", &BlockedError{Reason: reason}
	}

	c.logger.Info("Gemini generation finished",
		"model", model,
		"finish_reason", cand.FinishReason,
		"chars", len(text),
		"duration", time.Since(start))
	return text, nil
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
