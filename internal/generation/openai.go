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

// OpenAIConfig configures an OpenAI-compatible chat completions client.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIClient calls any OpenAI-compatible /chat/completions endpoint.
type OpenAIClient struct {
	cfg        OpenAIConfig
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Generator = (*OpenAIClient)(nil)

// NewOpenAIClient constructs a client. Base URL and model are required.
func NewOpenAIClient(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIClient, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("openai base url required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("openai model required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Generate sends the prompt as a system and user message pair.
func (c *OpenAIClient) Generate(ctx context.Context, p Prompt) (string, error) {
	reqBody := chatRequest{Model: c.cfg.Model}
	if strings.TrimSpace(p.System) != "" {
		reqBody.Messages = append(reqBody.Messages, chatMessage{Role: "system", Content: p.System})
	}
	reqBody.Messages = append(reqBody.Messages, chatMessage{Role: "user", Content: p.User})

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", failed("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", failed("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", failed("http call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", failed("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", failed("upstream status %d: %s", resp.StatusCode, prefix(string(respBody), 200))
	}

	var out chatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", failed("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", &BlockedError{Reason: "empty response"}
	}

	choice := out.Choices[0]
	if choice.Message.Refusal != "" {
		c.logger.Warn("Model refused request", "model", c.cfg.Model)
		return "", &BlockedError{Reason: choice.Message.Refusal}
	}
	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		reason := choice.FinishReason
		if reason == "" || reason == "stop" {
			reason = "empty response"
		}
		return "", &BlockedError{Reason: reason}
	}
	return text, nil
}
