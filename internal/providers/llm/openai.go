package llm

import (
	"context"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string // optional, for proxies and tests
}

// OpenAI wraps the chat completions and embeddings APIs.
type OpenAI struct {
	client *openai.Client
	model  string
}

var (
	_ Provider = (*OpenAI)(nil)
	_ Embedder = (*OpenAI)(nil)
)

func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	return &OpenAI{client: openai.NewClientWithConfig(oc), model: cfg.Model}, nil
}

func (o *OpenAI) Name() string { return ProviderOpenAI }

func (o *OpenAI) Close() error { return nil }

func (o *OpenAI) complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.3,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAI) GenerateSuggestion(ctx context.Context, req SuggestionRequest) (*Suggestion, error) {
	text, err := o.complete(ctx, suggestionSystemPrompt, buildSuggestionPrompt(req), 200)
	if err != nil {
		return nil, err
	}
	return parseSuggestion(text, ProviderOpenAI)
}

func (o *OpenAI) AnalyzeConversation(ctx context.Context, transcript string) (*Analysis, error) {
	text, err := o.complete(ctx, analysisSystemPrompt, buildAnalysisPrompt(transcript), 600)
	if err != nil {
		return nil, err
	}
	return parseAnalysis(text, ProviderOpenAI)
}

func (o *OpenAI) HealthCheck(ctx context.Context) error {
	_, err := o.client.ListModels(ctx)
	return err
}

// Embed uses ada-002, which yields 1536 dimensions (matches suggestions.trigger_embedding).
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.AdaEmbeddingV2,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, ErrEmptyResponse
	}
	return resp.Data[0].Embedding, nil
}
