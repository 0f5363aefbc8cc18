package llm

import (
	"context"
	"strings"

	vertexgenai "cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/iterator"
)

// VertexGemini keeps one model per task so each carries its own system
// instruction; models are not mutated after construction.
type VertexGemini struct {
	client  *vertexgenai.Client
	suggest *vertexgenai.GenerativeModel
	analyze *vertexgenai.GenerativeModel
}

var _ Provider = (*VertexGemini)(nil)

func NewVertexGemini(ctx context.Context, projectID, location, modelName string) (*VertexGemini, error) {
	if projectID == "" {
		return nil, ErrNotConfigured
	}
	c, err := vertexgenai.NewClient(ctx, projectID, location)
	if err != nil {
		return nil, err
	}

	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}

	return &VertexGemini{
		client:  c,
		suggest: configureModel(c.GenerativeModel(modelName), suggestionSystemPrompt),
		analyze: configureModel(c.GenerativeModel(modelName), analysisSystemPrompt),
	}, nil
}

func configureModel(m *vertexgenai.GenerativeModel, system string) *vertexgenai.GenerativeModel {
	m.SetTemperature(0.3)
	m.SystemInstruction = &vertexgenai.Content{
		Parts: []vertexgenai.Part{vertexgenai.Text(system)},
	}
	return m
}

func (v *VertexGemini) Name() string { return ProviderGemini }

func (v *VertexGemini) Close() error { return v.client.Close() }

// stream collects the streamed candidates into one string.
func (v *VertexGemini) stream(ctx context.Context, m *vertexgenai.GenerativeModel, prompt string) (string, error) {
	full := strings.Builder{}
	it := m.GenerateContentStream(ctx, vertexgenai.Text(prompt))
	for {
		resp, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return "", err
		}

		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if t, ok := part.(vertexgenai.Text); ok && string(t) != "" {
					full.WriteString(string(t))
				}
			}
		}
	}
	return full.String(), nil
}

func (v *VertexGemini) GenerateSuggestion(ctx context.Context, req SuggestionRequest) (*Suggestion, error) {
	text, err := v.stream(ctx, v.suggest, buildSuggestionPrompt(req))
	if err != nil {
		return nil, err
	}
	return parseSuggestion(text, ProviderGemini)
}

func (v *VertexGemini) AnalyzeConversation(ctx context.Context, transcript string) (*Analysis, error) {
	text, err := v.stream(ctx, v.analyze, buildAnalysisPrompt(transcript))
	if err != nil {
		return nil, err
	}
	return parseAnalysis(text, ProviderGemini)
}

func (v *VertexGemini) HealthCheck(ctx context.Context) error {
	_, err := v.suggest.CountTokens(ctx, vertexgenai.Text("ok"))
	return err
}
