package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"
)

type Config struct {
	App     AppConfig     `toml:"app"`
	Upload  UploadConfig  `toml:"upload"`
	Session SessionConfig `toml:"session"`
	Redis   RedisConfig   `toml:"redis"`
	LLM     LLMConfig     `toml:"llm"`
}

type AppConfig struct {
	Name    string `toml:"name"`
	Env     string `toml:"env"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	GinMode string `toml:"gin_mode"`
	WebDir  string `toml:"web_dir"`
}

type UploadConfig struct {
	Dir      string `toml:"dir"`
	MaxBytes int64  `toml:"max_bytes"`
}

type SessionConfig struct {
	Backend string `toml:"backend"`
}

type RedisConfig struct {
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"`
}

type LLMConfig struct {
	Endpoint       string  `toml:"endpoint"`
	APIKey         string  `toml:"api_key"`
	Model          string  `toml:"model"`
	SystemPrompt   string  `toml:"system_prompt"`
	Temperature    float64 `toml:"temperature"`
	LastK          int     `toml:"last_k"`
	RAGThreshold   float64 `toml:"rag_threshold"`
	RAGUsage       bool    `toml:"rag_usage"`
	RAGK           int     `toml:"rag_k"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

// Load reads .env (if present), then the TOML file, then environment
// overrides. An explicit path wins over CONFIG_FILE.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env failed: %w", err)
	}

	cfg := defaultConfig()

	configPath := path
	if configPath == "" {
		configPath = getEnv("CONFIG_FILE", "configs/config.toml")
	}
	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("decode config file failed: %w", err)
		}
	} else if path != "" {
		return nil, fmt.Errorf("config file %s not found: %w", path, err)
	}

	overrideByEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Session.Backend {
	case SessionBackendMemory, SessionBackendRedis:
	default:
		return fmt.Errorf("unknown session backend %q", c.Session.Backend)
	}
	if strings.TrimSpace(c.Upload.Dir) == "" {
		return fmt.Errorf("upload dir is empty")
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload max_bytes must be positive")
	}
	return nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.App.Host, c.App.Port)
}

func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

func (c *Config) IsDev() bool {
	return c.App.Env == "dev"
}

func defaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:    "graderbot",
			Env:     "dev",
			Host:    "0.0.0.0",
			Port:    3001,
			GinMode: "debug",
			WebDir:  "web",
		},
		Upload: UploadConfig{
			Dir:      "uploads",
			MaxBytes: 10 << 20,
		},
		Session: SessionConfig{
			Backend: SessionBackendMemory,
		},
		Redis: RedisConfig{
			Addr:      "127.0.0.1:6379",
			KeyPrefix: "grader",
		},
		LLM: LLMConfig{
			Model:          "gpt4-new",
			SystemPrompt:   "Give your best response.",
			Temperature:    0.2,
			LastK:          0,
			RAGThreshold:   0.5,
			RAGUsage:       false,
			RAGK:           0,
			TimeoutSeconds: 90,
		},
	}
}

func overrideByEnv(cfg *Config) {
	cfg.App.Name = getEnv("APP_NAME", cfg.App.Name)
	cfg.App.Env = getEnv("APP_ENV", cfg.App.Env)
	cfg.App.Host = getEnv("APP_HOST", cfg.App.Host)
	cfg.App.Port = getEnvAsInt("APP_PORT", cfg.App.Port)
	cfg.App.GinMode = getEnv("GIN_MODE", cfg.App.GinMode)
	cfg.App.WebDir = getEnv("WEB_DIR", cfg.App.WebDir)

	cfg.Upload.Dir = getEnv("UPLOAD_DIR", cfg.Upload.Dir)
	cfg.Upload.MaxBytes = int64(getEnvAsInt("UPLOAD_MAX_BYTES", int(cfg.Upload.MaxBytes)))

	cfg.Session.Backend = strings.ToLower(getEnv("SESSION_BACKEND", cfg.Session.Backend))

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.KeyPrefix = getEnv("REDIS_KEY_PREFIX", cfg.Redis.KeyPrefix)

	// endPoint and apiKey are the names older deployments used.
	cfg.LLM.Endpoint = getEnv("LLM_ENDPOINT", getEnv("endPoint", cfg.LLM.Endpoint))
	cfg.LLM.APIKey = getEnv("LLM_API_KEY", getEnv("apiKey", cfg.LLM.APIKey))
	cfg.LLM.Model = getEnv("LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.SystemPrompt = getEnv("LLM_SYSTEM_PROMPT", cfg.LLM.SystemPrompt)
	cfg.LLM.Temperature = getEnvAsFloat("LLM_TEMPERATURE", cfg.LLM.Temperature)
	cfg.LLM.LastK = getEnvAsInt("LLM_LAST_K", cfg.LLM.LastK)
	cfg.LLM.RAGThreshold = getEnvAsFloat("LLM_RAG_THRESHOLD", cfg.LLM.RAGThreshold)
	cfg.LLM.RAGUsage = getEnvAsBool("LLM_RAG_USAGE", cfg.LLM.RAGUsage)
	cfg.LLM.RAGK = getEnvAsInt("LLM_RAG_K", cfg.LLM.RAGK)
	cfg.LLM.TimeoutSeconds = getEnvAsInt("LLM_TIMEOUT_SECONDS", cfg.LLM.TimeoutSeconds)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsFloat(key string, fallback float64) float64 {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
