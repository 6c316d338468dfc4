package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"deepseek-chat/internal/config"
	"deepseek-chat/internal/db"
	apihttp "deepseek-chat/internal/http"
	"deepseek-chat/internal/llm"
	"deepseek-chat/internal/logging"
	"deepseek-chat/internal/render"
	"deepseek-chat/internal/repository"
	"deepseek-chat/internal/service"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Error("open conversation storage", zap.Error(err))
		fmt.Fprintf(os.Stderr, "storage: %v\n", err)
		return 1
	}
	defer closeRepo()

	llmClient := llm.NewHTTPClient(llm.Options{
		BaseURL:      cfg.LLMBaseURL,
		APIKey:       cfg.LLMAPIKey,
		Model:        cfg.LLMModel,
		SystemPrompt: cfg.SystemPrompt,
		Timeout:      cfg.LLMTimeout,
	}, logger)

	promptPrice, completionPrice, _ := cfg.Prices()
	usage := service.NewUsageTracker(promptPrice, completionPrice)
	ctrl := service.NewSessionController(logger, llmClient, repo, usage, service.ControllerOptions{
		Window: cfg.ContextWindow,
		Stream: cfg.LLMStream,
	})
	defer ctrl.Close()

	md := render.NewMarkdown()
	if cfg.HTTPAddr != "" {
		server, err := startHTTP(cfg, logger, ctrl, md)
		if err != nil {
			logger.Error("start http api", zap.Error(err))
			fmt.Fprintf(os.Stderr, "http: %v\n", err)
			return 1
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	if err := newREPL(logger, ctrl, llmClient, md, os.Stdout).Run(ctx, os.Stdin); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("repl stopped", zap.Error(err))
	}
	return 0
}

// openRepository elige el almacenamiento según STORAGE_BACKEND.
func openRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.ConversationRepository, func(), error) {
	switch cfg.StorageBackend {
	case config.StoragePostgres:
		if err := db.RunMigrations(cfg.DatabaseURL, logger); err != nil {
			return nil, nil, err
		}
		pool, err := db.NewPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewPgConversationRepository(pool), pool.Close, nil

	case config.StorageRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.Ping(ctxPing).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return repository.NewRedisConversationRepository(client, 0), func() { _ = client.Close() }, nil

	default:
		return repository.NewFileConversationRepository(cfg.ConversationsDir), func() {}, nil
	}
}

func startHTTP(cfg *config.Config, logger *zap.Logger, ctrl *service.SessionController, md *render.Markdown) (*http.Server, error) {
	gin.SetMode(gin.ReleaseMode)

	var jwtSvc *service.JWTService
	if cfg.HTTPTokenSecret != "" {
		jwtSvc = service.NewJWTService(cfg.HTTPTokenSecret, cfg.HTTPTokenTTL)
		token, expires, err := jwtSvc.Issue("local")
		if err != nil {
			return nil, fmt.Errorf("issue api token: %w", err)
		}
		fmt.Fprintf(os.Stderr, "API token (expira %s): %s\n", expires.Local().Format(time.DateTime), token)
	} else {
		logger.Warn("http api running without token secret")
	}

	router := apihttp.NewRouter(logger, apihttp.NewChatHandler(logger, ctrl, md), jwtSvc)
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting http api", zap.String("addr", cfg.HTTPAddr))
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
		}
	}()
	return server, nil
}
