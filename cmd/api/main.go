package main

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"studypal_go_backend/cmd/api/config"
	"studypal_go_backend/internal/ai"
	"studypal_go_backend/internal/api"
	"studypal_go_backend/internal/auth"
	"studypal_go_backend/internal/database"
	"studypal_go_backend/internal/ledger"
	"studypal_go_backend/internal/services"
	"studypal_go_backend/internal/tutor"
	"studypal_go_backend/internal/utils/broker"
	"studypal_go_backend/internal/wsocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/generative-ai-go/genai"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

func main() {
	// Missing .env is fine in containers where env comes from the runtime.
	_ = godotenv.Load()

	logger := newLogger()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		logger.Fatal().Msg("JWT_SECRET is not set in the environment")
	}

	database.InitDB()
	cfg := config.NewConfig()

	ctx := context.Background()

	// Entitlement ledger: signed-in users hit Postgres, anonymous devices hit
	// Redis when available and fall back to process memory otherwise.
	userStore := ledger.NewPostgresStore(database.DB, logger)
	var deviceStore ledger.Store
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		deviceStore = ledger.NewRedisStore(client, logger)
		logger.Info().Str("addr", addr).Msg("anonymous usage tracked in redis")
	} else {
		deviceStore = ledger.NewMemoryStore()
		logger.Warn().Msg("REDIS_ADDR not set, anonymous usage tracked in process memory")
	}
	store := ledger.NewSplit(userStore, deviceStore)

	dispatcher := newDispatcher(ctx, logger)

	chats := services.NewChatStore(database.DB)
	userService := services.NewUserService(database.DB)

	stripeService := services.NewStripeService(
		os.Getenv("STRIPE_SECRET_KEY"),
		os.Getenv("STRIPE_WEBHOOK_SECRET"),
		os.Getenv("CHECKOUT_SUCCESS_URL"),
		os.Getenv("CHECKOUT_CANCEL_URL"),
		os.Getenv("STRIPE_GOLD_PRICE_ID"),
		os.Getenv("STRIPE_DIAMOND_PRICE_ID"),
	)

	supportService := services.NewSupportService(
		os.Getenv("SMTP_HOST"),
		os.Getenv("SMTP_PORT"),
		os.Getenv("SMTP_USERNAME"),
		os.Getenv("SMTP_PASSWORD"),
		os.Getenv("SUPPORT_FROM_ADDRESS"),
		os.Getenv("SUPPORT_TO_ADDRESS"),
	)

	tutorCfg := tutor.DefaultConfig()
	tutorCfg.MinRevealLatency = cfg.MinRevealLatency
	tutorCfg.CharDelay = cfg.CharDelay
	tutorCfg.PunctuationDelay = cfg.PunctuationDelay
	tutorCfg.ShortResponseWords = cfg.ShortResponseWords
	tutorCfg.DispatchTimeout = cfg.DispatchTimeout
	if prompt := os.Getenv("SYSTEM_PROMPT"); prompt != "" {
		tutorCfg.SystemPrompt = prompt
	}

	manager := tutor.NewManager(store, dispatcher, chats, logger, tutorCfg, cfg.SessionIdleTimeout, cfg.SessionCleanupInterval)
	messageBroker := broker.NewBroker()

	r := gin.Default()

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:5173"
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Split(allowedOrigins, ","),
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", auth.DeviceIDHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true // TODO: Implement a more secure check in production
		},
	}
	wsHandler := wsocket.NewHandler(manager, store, chats, upgrader, logger)

	api.SetupRoutes(r, store, manager, chats, userService, stripeService, supportService, api.NewMemoryRateLimit(), wsHandler, messageBroker, jwtSecret, logger)
	auth.SetupRoutes(r, userService, jwtSecret)

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}

	logger.Info().Str("port", port).Msg("server starting")
	if err := r.Run(":" + port); err != nil {
		logger.Fatal().Err(err).Msg("failed to start server")
	}
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var out = os.Stdout
	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	if os.Getenv("APP_ENV") != "production" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}
	return logger
}

// newDispatcher picks the AI provider from the environment. OpenAI-compatible
// endpoints are the default; Gemini is used when AI_PROVIDER=gemini.
func newDispatcher(ctx context.Context, logger zerolog.Logger) ai.Dispatcher {
	switch os.Getenv("AI_PROVIDER") {
	case "gemini":
		apiKey := os.Getenv("GOOGLE_AI_STUDIO_API_KEY")
		if apiKey == "" {
			logger.Fatal().Msg("GOOGLE_AI_STUDIO_API_KEY is not set in the environment")
		}
		client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create GenAI client")
		}
		model := os.Getenv("GEMINI_MODEL")
		if model == "" {
			model = "gemini-1.5-flash"
		}
		return ai.NewGeminiClient(client, model)

	default:
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			logger.Fatal().Msg("OPENAI_API_KEY is not set in the environment")
		}
		baseURL := os.Getenv("OPENAI_BASE_URL")
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		model := os.Getenv("OPENAI_MODEL")
		if model == "" {
			model = "gpt-4o-mini"
		}
		return ai.NewOpenAIClient(apiKey, baseURL, model)
	}
}
