package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

type PerplexityConfig struct {
	APIKey   string
	Endpoint string
	Model    string
	Timeout  time.Duration
}

// Perplexity speaks the OpenAI-compatible chat completions dialect.
type Perplexity struct {
	http *resty.Client
	cfg  PerplexityConfig
}

var _ Provider = (*Perplexity)(nil)

type perplexityResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func NewPerplexity(cfg PerplexityConfig) (*Perplexity, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.perplexity.ai/chat/completions"
	}
	if cfg.Model == "" {
		cfg.Model = "sonar"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json")
	return &Perplexity{http: client, cfg: cfg}, nil
}

func (p *Perplexity) Name() string { return ProviderPerplexity }

func (p *Perplexity) Close() error { return nil }

func (p *Perplexity) send(ctx context.Context, system, user string, maxTokens int) (string, error) {
	messages := []map[string]string{}
	if system != "" {
		messages = append(messages, map[string]string{"role": "system", "content": system})
	}
	messages = append(messages, map[string]string{"role": "user", "content": user})

	var out perplexityResponse
	resp, err := p.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"model":       p.cfg.Model,
			"messages":    messages,
			"max_tokens":  maxTokens,
			"temperature": 0.2,
			"stream":      false,
		}).
		SetResult(&out).
		Post(p.cfg.Endpoint)
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("perplexity: status %d", resp.StatusCode())
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return out.Choices[0].Message.Content, nil
}

func (p *Perplexity) GenerateSuggestion(ctx context.Context, req SuggestionRequest) (*Suggestion, error) {
	text, err := p.send(ctx, suggestionSystemPrompt, buildSuggestionPrompt(req), 200)
	if err != nil {
		return nil, err
	}
	return parseSuggestion(text, ProviderPerplexity)
}

func (p *Perplexity) AnalyzeConversation(ctx context.Context, transcript string) (*Analysis, error) {
	text, err := p.send(ctx, analysisSystemPrompt, buildAnalysisPrompt(transcript), 600)
	if err != nil {
		return nil, err
	}
	return parseAnalysis(text, ProviderPerplexity)
}

func (p *Perplexity) HealthCheck(ctx context.Context) error {
	_, err := p.send(ctx, "", "Reply with the word: ok", 4)
	return err
}
