package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

const suggestionSystemPrompt = `You assist a contact-center operator in real time.
Given the latest customer utterance and the recent conversation, propose the next thing the operator should say.
Be concise (at most two sentences), polite and specific.
Answer with JSON only: {"suggestion": "<text>", "confidence": <number between 0 and 1>}`

const analysisSystemPrompt = `You review finished customer conversations for a contact center.
Answer with JSON only: {"summary": "<two or three sentences>", "sentiment": "positive|neutral|negative", "key_points": ["..."], "action_items": ["..."]}`

// defaultConfidence is used when a model answers in plain text.
const defaultConfidence = 0.7

func buildSuggestionPrompt(req SuggestionRequest) string {
	var b strings.Builder
	channel := req.Channel
	if channel == "" {
		channel = "call"
	}
	fmt.Fprintf(&b, "Channel: %s\n", channel)
	if req.Language != "" {
		fmt.Fprintf(&b, "Reply language: %s\n", req.Language)
	}
	if len(req.Context) > 0 {
		b.WriteString("\nRecent conversation:\n")
		for _, line := range req.Context {
			b.WriteString("- ")
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	if len(req.Examples) > 0 {
		b.WriteString("\nAnswers operators used before for similar questions:\n")
		for _, ex := range req.Examples {
			b.WriteString("- ")
			b.WriteString(ex)
			b.WriteByte('\n')
		}
	}
	b.WriteString("\nLatest customer utterance:\n")
	b.WriteString(req.Transcript)
	return b.String()
}

func buildAnalysisPrompt(transcript string) string {
	return "Conversation transcript:\n" + transcript
}

// extractJSON returns the outermost {...} block, tolerating code fences and prose.
func extractJSON(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func parseSuggestion(raw, provider string) (*Suggestion, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrEmptyResponse
	}

	if block, ok := extractJSON(raw); ok {
		var out struct {
			Suggestion string   `json:"suggestion"`
			Confidence *float64 `json:"confidence"`
		}
		if err := json.Unmarshal([]byte(block), &out); err == nil && strings.TrimSpace(out.Suggestion) != "" {
			conf := defaultConfidence
			if out.Confidence != nil {
				conf = clamp01(*out.Confidence)
			}
			return &Suggestion{Content: strings.TrimSpace(out.Suggestion), Confidence: conf, Provider: provider}, nil
		}
	}

	return &Suggestion{Content: raw, Confidence: defaultConfidence, Provider: provider}, nil
}

func parseAnalysis(raw, provider string) (*Analysis, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrEmptyResponse
	}
	if block, ok := extractJSON(raw); ok {
		var out Analysis
		if err := json.Unmarshal([]byte(block), &out); err == nil && out.Summary != "" {
			out.Sentiment = normalizeSentiment(out.Sentiment)
			out.Provider = provider
			return &out, nil
		}
	}
	return &Analysis{Summary: raw, Sentiment: "neutral", Provider: provider}, nil
}

func normalizeSentiment(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive":
		return "positive"
	case "negative":
		return "negative"
	default:
		return "neutral"
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
