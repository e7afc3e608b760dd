package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"graderbot/internal/ai"
	appsvc "graderbot/internal/app"
	"graderbot/internal/cache"
	"graderbot/internal/config"
	loggerpkg "graderbot/internal/platform/logger"
	redisClient "graderbot/internal/platform/redis"
	"graderbot/internal/repository"
)

type App struct {
	Config *config.Config
	Logger *zap.Logger
	Redis  *redis.Client
	Grader *appsvc.GraderService

	StartedAt time.Time
}

func New(ctx context.Context, configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	log, err := loggerpkg.New(cfg.App.Name, cfg.IsDev())
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: log, StartedAt: time.Now()}

	var store appsvc.SessionStore
	switch cfg.Session.Backend {
	case config.SessionBackendRedis:
		redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			_ = log.Sync()
			return nil, err
		}
		a.Redis = redisCli
		store = cache.NewSessionIndex(redisCli, cfg.Redis.KeyPrefix)
	default:
		store = repository.NewFileSessionRepository()
	}

	if cfg.LLM.Endpoint == "" {
		log.Warn("llm endpoint is not configured; generate-output will fail")
	}
	generator := ai.NewGenerationClient(ai.GenerationConfig{
		Endpoint: cfg.LLM.Endpoint,
		APIKey:   cfg.LLM.APIKey,
		Timeout:  cfg.LLMTimeout(),
	})

	grader, err := appsvc.NewGraderService(store, generator, GenerationDefaults(cfg.LLM), cfg.Upload.Dir, log.Named("grader"))
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Grader = grader

	log.Info("bootstrap complete",
		zap.String("env", cfg.App.Env),
		zap.String("session_backend", cfg.Session.Backend),
		zap.String("upload_dir", cfg.Upload.Dir))
	return a, nil
}

func GenerationDefaults(llm config.LLMConfig) appsvc.GenerationDefaults {
	return appsvc.GenerationDefaults{
		Model:        llm.Model,
		System:       llm.SystemPrompt,
		Temperature:  llm.Temperature,
		LastK:        llm.LastK,
		RAGThreshold: llm.RAGThreshold,
		RAGUsage:     llm.RAGUsage,
		RAGK:         llm.RAGK,
	}
}

// Close releases resources. With the memory backend the session index dies
// with the process, so uploaded files are removed as well.
func (a *App) Close() error {
	var closeErr error
	if a.Grader != nil && a.Redis == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.Grader.PurgeAll(ctx); err != nil {
			closeErr = err
		}
		cancel()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return closeErr
}
