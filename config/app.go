package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// App holds the service settings read from the environment.
type App struct {
	Port   string
	NodeID string

	// Auth (tokens are issued by the hosted identity provider)
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	// LLM providers
	OpenAIKey     string
	OpenAIModel   string
	OpenAIBaseURL string

	AnthropicKey      string
	AnthropicModel    string
	AnthropicEndpoint string
	AnthropicVersion  string

	GeminiProjectID string
	GeminiLocation  string
	GeminiModel     string

	PerplexityKey      string
	PerplexityModel    string
	PerplexityEndpoint string

	ProviderOrder []string
	LLMTimeout    time.Duration
	LLMBalanced   bool

	// Speech-to-text
	STTProvider       string
	DeepgramKey       string
	DeepgramEndpoint  string
	DeepgramModel     string
	STTLanguage       string
	STTSampleRate     int
	STTEncoding       string
	GoogleCredentials string

	// Pipeline
	ContextWindow      int
	SuggestionDispatch string
	SuggestionWorkers  int
	TranscriptBucket   string

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
}

// Load reads App from environment variables, applying defaults.
func Load() *App {
	return &App{
		Port:   getEnv("PORT", "8080"),
		NodeID: getEnv("NODE_ID", ""),

		JWTSecret:   getEnv("AUTH_JWT_SECRET", ""),
		JWTIssuer:   getEnv("AUTH_JWT_ISSUER", ""),
		JWTAudience: getEnv("AUTH_JWT_AUDIENCE", ""),

		OpenAIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),

		AnthropicKey:      getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:    getEnv("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
		AnthropicEndpoint: getEnv("ANTHROPIC_ENDPOINT", "https://api.anthropic.com/v1/messages"),
		AnthropicVersion:  getEnv("ANTHROPIC_VERSION", "2023-06-01"),

		GeminiProjectID: getEnv("GEMINI_PROJECT_ID", ""),
		GeminiLocation:  getEnv("GEMINI_LOCATION", "us-central1"),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-1.5-flash"),

		PerplexityKey:      getEnv("PERPLEXITY_API_KEY", ""),
		PerplexityModel:    getEnv("PERPLEXITY_MODEL", "sonar"),
		PerplexityEndpoint: getEnv("PERPLEXITY_ENDPOINT", "https://api.perplexity.ai/chat/completions"),

		ProviderOrder: getEnvList("LLM_PROVIDER_ORDER", []string{"openai", "claude", "gemini", "perplexity"}),
		LLMTimeout:    time.Duration(getEnvInt("LLM_TIMEOUT_MS", 15000)) * time.Millisecond,
		LLMBalanced:   getEnvBool("LLM_BALANCED", false),

		STTProvider:       strings.ToLower(getEnv("STT_PROVIDER", "deepgram")),
		DeepgramKey:       getEnv("DEEPGRAM_API_KEY", ""),
		DeepgramEndpoint:  getEnv("DEEPGRAM_ENDPOINT", "wss://api.deepgram.com/v1/listen"),
		DeepgramModel:     getEnv("DEEPGRAM_MODEL", "nova-2"),
		STTLanguage:       getEnv("STT_LANGUAGE", "en-US"),
		STTSampleRate:     getEnvInt("STT_SAMPLE_RATE", 8000),
		STTEncoding:       strings.ToLower(getEnv("STT_ENCODING", "mulaw")),
		GoogleCredentials: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),

		ContextWindow:      getEnvInt("CONTEXT_WINDOW", 5),
		SuggestionDispatch: strings.ToLower(getEnv("SUGGESTION_DISPATCH", "inline")),
		SuggestionWorkers:  getEnvInt("SUGGESTION_WORKERS", 4),
		TranscriptBucket:   getEnv("TRANSCRIPT_BUCKET", ""),

		PingInterval:   time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 25000)) * time.Millisecond,
		WriteTimeout:   time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:    time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize: int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 1<<20)),
	}
}

func getEnv(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvList splits a comma separated value, dropping blanks.
func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if strings.TrimSpace(val) == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
