package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

type ClaudeConfig struct {
	APIKey   string
	Endpoint string
	Model    string
	Version  string
	Timeout  time.Duration
}

// Claude calls the Anthropic messages API.
type Claude struct {
	http *resty.Client
	cfg  ClaudeConfig
}

var _ Provider = (*Claude)(nil)

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	System    string          `json:"system,omitempty"`
	Messages  []claudeMessage `json:"messages"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type claudeError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func NewClaude(cfg ClaudeConfig) (*Claude, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.anthropic.com/v1/messages"
	}
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-haiku-latest"
	}
	if cfg.Version == "" {
		cfg.Version = "2023-06-01"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("x-api-key", cfg.APIKey).
		SetHeader("anthropic-version", cfg.Version).
		SetHeader("Content-Type", "application/json")
	return &Claude{http: client, cfg: cfg}, nil
}

func (c *Claude) Name() string { return ProviderClaude }

func (c *Claude) Close() error { return nil }

func (c *Claude) send(ctx context.Context, system, user string, maxTokens int) (string, error) {
	var out claudeResponse
	var apiErr claudeError
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(claudeRequest{
			Model:     c.cfg.Model,
			MaxTokens: maxTokens,
			System:    system,
			Messages:  []claudeMessage{{Role: "user", Content: user}},
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post(c.cfg.Endpoint)
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("claude: status %d: %s", resp.StatusCode(), apiErr.Error.Message)
	}

	var b strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

func (c *Claude) GenerateSuggestion(ctx context.Context, req SuggestionRequest) (*Suggestion, error) {
	text, err := c.send(ctx, suggestionSystemPrompt, buildSuggestionPrompt(req), 200)
	if err != nil {
		return nil, err
	}
	return parseSuggestion(text, ProviderClaude)
}

func (c *Claude) AnalyzeConversation(ctx context.Context, transcript string) (*Analysis, error) {
	text, err := c.send(ctx, analysisSystemPrompt, buildAnalysisPrompt(transcript), 600)
	if err != nil {
		return nil, err
	}
	return parseAnalysis(text, ProviderClaude)
}

func (c *Claude) HealthCheck(ctx context.Context) error {
	_, err := c.send(ctx, "", "Reply with the word: ok", 4)
	return err
}
