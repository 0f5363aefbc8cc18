package llm

import (
	"context"
	"errors"
)

// Provider is the uniform surface every LLM vendor adapter exposes.
type Provider interface {
	Name() string
	GenerateSuggestion(ctx context.Context, req SuggestionRequest) (*Suggestion, error)
	AnalyzeConversation(ctx context.Context, transcript string) (*Analysis, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// Embedder turns text into a vector for similarity lookups.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type SuggestionRequest struct {
	Transcript string   // the utterance or message that triggered the request
	Context    []string // recent lines, oldest first
	Examples   []string // previously used answers for similar questions
	Channel    string   // call|chat
	Language   string
}

type Suggestion struct {
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
	Provider   string  `json:"provider"`
}

type Analysis struct {
	Summary     string   `json:"summary"`
	Sentiment   string   `json:"sentiment"` // positive|neutral|negative
	KeyPoints   []string `json:"key_points"`
	ActionItems []string `json:"action_items"`
	Provider    string   `json:"provider"`
}

const (
	ProviderOpenAI     = "openai"
	ProviderClaude     = "claude"
	ProviderGemini     = "gemini"
	ProviderPerplexity = "perplexity"
	ProviderMock       = "mock"
)

var (
	ErrEmptyResponse = errors.New("llm: empty response")
	ErrNotConfigured = errors.New("llm: provider not configured")
)
