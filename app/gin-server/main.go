package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/callpilot/config"
	"github.com/yoockh/callpilot/internal/api/handlers"
	"github.com/yoockh/callpilot/internal/api/middleware"
	"github.com/yoockh/callpilot/internal/api/routes"
	"github.com/yoockh/callpilot/internal/cache"
	"github.com/yoockh/callpilot/internal/logger"
	"github.com/yoockh/callpilot/internal/media"
	"github.com/yoockh/callpilot/internal/notify"
	"github.com/yoockh/callpilot/internal/providers/llm"
	"github.com/yoockh/callpilot/internal/providers/stt"
	mongorepo "github.com/yoockh/callpilot/internal/repositories/mongo"
	pgrepo "github.com/yoockh/callpilot/internal/repositories/postgres"
	"github.com/yoockh/callpilot/internal/services"
	"github.com/yoockh/callpilot/internal/storage"
	"github.com/yoockh/callpilot/internal/workers"
)

// roomAccess is filled in once the services exist; the hub needs it first.
type roomAccess struct {
	calls services.CallService
	chats services.ChatService
}

func (a *roomAccess) CanJoinCall(ctx context.Context, companyID, callID string) (bool, error) {
	return a.calls.CanJoinCall(ctx, companyID, callID)
}

func (a *roomAccess) CanJoinChat(ctx context.Context, companyID, chatID string) (bool, error) {
	return a.chats.CanJoinChat(ctx, companyID, chatID)
}

func main() {
	_ = godotenv.Load()
	log := logger.New()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Init PostgreSQL
	if err := config.InitPostgres(); err != nil {
		log.WithError(err).Fatal("PostgreSQL init error")
	}
	if err := config.MigratePostgres(); err != nil {
		log.WithError(err).Fatal("PostgreSQL migrate error")
	}
	log.Info("PostgreSQL connected")

	// Redis and MongoDB are optional
	callCache := cache.Cache(cache.Noop{})
	if err := config.InitRedis(); err != nil {
		log.WithError(err).Warn("Redis disabled")
	} else {
		callCache = cache.NewRedisCache(config.RedisClient, cache.DefaultPrefix)
		log.Info("Redis connected")
	}

	var (
		streamSessions mongorepo.StreamSessionRepository
		utterances     mongorepo.UtteranceRepository
	)
	if err := config.InitMongo(); err != nil {
		log.WithError(err).Warn("MongoDB disabled; transcripts are kept on calls only")
	} else {
		if err := config.EnsureMongoIndexes(); err != nil {
			log.WithError(err).Warn("MongoDB index setup failed")
		}
		db := config.MongoDatabase()
		streamSessions = mongorepo.NewStreamSessionRepo(db)
		utterances = mongorepo.NewUtteranceRepo(db)
		log.Info("MongoDB connected")
	}

	manager, embedder := buildLLM(ctx, cfg, log)
	defer manager.Close()

	sttProvider, err := buildSTT(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("speech-to-text init error")
	}
	defer sttProvider.Close()

	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	access := &roomAccess{}
	hub := notify.NewHub(log, notify.WithNodeID(nodeID), notify.WithAuthorizer(access))
	if config.RedisClient != nil {
		hub.AttachAdapter(ctx, notify.NewRedisAdapter(config.RedisClient, notify.DefaultChannel, log))
	} else {
		hub.AttachAdapter(ctx, nil)
	}
	defer hub.Close()

	// Repos
	callRepo := pgrepo.NewCallRepo(config.PostgresDB)
	chatRepo := pgrepo.NewChatRepo(config.PostgresDB)
	suggestionRepo := pgrepo.NewSuggestionRepo(config.PostgresDB)

	// Services
	callSvc := services.NewCallService(callRepo, callCache, hub, log)
	suggestionSvc := services.NewSuggestionService(suggestionRepo, manager, embedder, hub, services.SuggestionOptions{
		Balanced: cfg.LLMBalanced,
		Language: cfg.STTLanguage,
	}, log)
	transcriptSvc := services.NewTranscriptService(streamSessions, utterances)
	notificationSvc := services.NewNotificationService(hub)

	jobTimeout := services.JobTimeout(len(manager.Providers()), cfg.LLMTimeout, 0)

	var dispatcher services.Dispatcher
	if cfg.SuggestionDispatch == "redis" && config.RedisClient != nil {
		pool := &workers.SuggestionWorkerPool{
			Redis:      config.RedisClient,
			Handler:    suggestionSvc,
			NumWorkers: cfg.SuggestionWorkers,
			JobTimeout: jobTimeout,
			Logger:     log,
		}
		if err := pool.Start(ctx); err != nil {
			log.WithError(err).Fatal("suggestion workers init error")
		}
		dispatcher = workers.NewRedisDispatcher(config.RedisClient, workers.DefaultStream)
	} else {
		inline := services.NewInlineDispatcher(suggestionSvc, jobTimeout, log)
		defer inline.Wait()
		dispatcher = inline
	}

	chatSvc := services.NewChatService(chatRepo, hub, dispatcher, cfg.ContextWindow, log)
	access.calls = callSvc
	access.chats = chatSvc

	var archiver storage.TranscriptArchiver
	if cfg.TranscriptBucket != "" {
		gcs, err := storage.NewGCSUploader(ctx, cfg.TranscriptBucket, cfg.GoogleCredentials)
		if err != nil {
			log.WithError(err).Warn("transcript archive disabled")
		} else {
			defer gcs.Close()
			archiver = gcs
		}
	}

	gateway := media.NewGateway(media.Deps{
		Calls:       callSvc,
		Transcripts: transcriptSvc,
		Dispatcher:  dispatcher,
		Notifier:    hub,
		STT:         sttProvider,
		Analyzer:    manager,
		Archiver:    archiver,
		Log:         log,
	}, media.Config{
		ContextWindow: cfg.ContextWindow,
		STT: stt.SessionConfig{
			Encoding:   cfg.STTEncoding,
			SampleRate: cfg.STTSampleRate,
			Language:   cfg.STTLanguage,
		},
	})

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))

	auth := middleware.JWTConfig{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	}
	if auth.Secret == "" {
		log.Warn("AUTH_JWT_SECRET not set; notification sockets are not verified")
	}

	routes.RegisterRoutes(r, routes.Deps{
		Auth: auth,
		WS: handlers.NewWSHandler(hub, gateway, auth, notify.ConnConfig{
			PingInterval:   cfg.PingInterval,
			WriteTimeout:   cfg.WriteTimeout,
			ReadTimeout:    cfg.ReadTimeout,
			MaxMessageSize: cfg.MaxMessageSize,
		}, media.ConnConfig{
			ReadTimeout:    cfg.ReadTimeout,
			MaxMessageSize: cfg.MaxMessageSize,
		}, log),
		Call:         handlers.NewCallHandler(callSvc, suggestionSvc, transcriptSvc),
		Chat:         handlers.NewChatHandler(chatSvc, suggestionSvc),
		Suggestion:   handlers.NewSuggestionHandler(suggestionSvc),
		Notification: handlers.NewNotificationHandler(notificationSvc),
		Admin:        handlers.NewAdminHandler(manager, sttProvider.Name(), gateway.ActiveStreams, hub.ClientCount),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{"port": cfg.Port, "node_id": nodeID}).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	gateway.Shutdown(shutdownCtx)
}

// buildLLM registers every provider that has credentials. The manager falls
// back to a canned suggestion when none do.
func buildLLM(ctx context.Context, cfg *config.App, log *logrus.Logger) (*llm.Manager, llm.Embedder) {
	var (
		providers []llm.Provider
		embedder  llm.Embedder
	)

	if cfg.OpenAIKey != "" {
		p, err := llm.NewOpenAI(llm.OpenAIConfig{APIKey: cfg.OpenAIKey, Model: cfg.OpenAIModel, BaseURL: cfg.OpenAIBaseURL})
		if err != nil {
			log.WithError(err).Warn("openai disabled")
		} else {
			providers = append(providers, p)
			embedder = p
		}
	}
	if cfg.AnthropicKey != "" {
		p, err := llm.NewClaude(llm.ClaudeConfig{
			APIKey:   cfg.AnthropicKey,
			Endpoint: cfg.AnthropicEndpoint,
			Model:    cfg.AnthropicModel,
			Version:  cfg.AnthropicVersion,
			Timeout:  cfg.LLMTimeout,
		})
		if err != nil {
			log.WithError(err).Warn("claude disabled")
		} else {
			providers = append(providers, p)
		}
	}
	if cfg.GeminiProjectID != "" {
		p, err := llm.NewVertexGemini(ctx, cfg.GeminiProjectID, cfg.GeminiLocation, cfg.GeminiModel)
		if err != nil {
			log.WithError(err).Warn("gemini disabled")
		} else {
			providers = append(providers, p)
		}
	}
	if cfg.PerplexityKey != "" {
		p, err := llm.NewPerplexity(llm.PerplexityConfig{
			APIKey:   cfg.PerplexityKey,
			Endpoint: cfg.PerplexityEndpoint,
			Model:    cfg.PerplexityModel,
			Timeout:  cfg.LLMTimeout,
		})
		if err != nil {
			log.WithError(err).Warn("perplexity disabled")
		} else {
			providers = append(providers, p)
		}
	}

	if len(providers) == 0 {
		log.Warn("no LLM provider configured; suggestions use the canned fallback")
	}
	return llm.NewManager(providers, cfg.ProviderOrder, cfg.LLMTimeout, log), embedder
}

func buildSTT(ctx context.Context, cfg *config.App, log *logrus.Logger) (stt.Provider, error) {
	if cfg.STTProvider == "google" {
		g, err := stt.NewGoogleSpeech(ctx, cfg.GoogleCredentials, log)
		if err != nil {
			return nil, err
		}
		return g, nil
	}
	d, err := stt.NewDeepgram(stt.DeepgramConfig{
		APIKey:   cfg.DeepgramKey,
		Endpoint: cfg.DeepgramEndpoint,
		Model:    cfg.DeepgramModel,
	}, log)
	if err != nil {
		return nil, err
	}
	return d, nil
}
