// Package config loads runtime settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	LLM      LLMConfig
	Store    StoreConfig
	Security SecurityConfig
	Law      LawConfig
	Weaviate WeaviateConfig
	Redis    RedisConfig
	Tracing  TracingConfig
	Workflow WorkflowConfig
}

type AppConfig struct {
	Port        string
	Environment string
	LogFile     string
	JWTSecret   string
}

type LLMConfig struct {
	Provider    string
	Model       string
	APIKey      string
	Timeout     time.Duration
	MaxAttempts int
}

type StoreConfig struct {
	Driver string
	DSN    string
}

type SecurityConfig struct {
	GuardURL          string
	GuardKey          string
	GroundednessURL   string
	GroundednessKey   string
	GroundednessModel string
	PIIPatternsFile   string
}

type LawConfig struct {
	BaseURL string
	OC      string
}

type WeaviateConfig struct {
	Host   string
	Scheme string
	Class  string
	Limit  int
}

type RedisConfig struct {
	URL   string
	Queue string
}

type TracingConfig struct {
	Enabled bool
}

type WorkflowConfig struct {
	HistoryBudget int
	MaxSteps      int
	NodeTimeout   time.Duration
}

// Load reads .env (if present) and the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, using system environment variables")
	}

	return &Config{
		App: AppConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("APP_ENV", "development"),
			LogFile:     getEnv("LOG_FILE", "logs/lexgraph.log"),
			JWTSecret:   getEnv("JWT_SECRET", ""),
		},
		LLM: LLMConfig{
			Provider:    strings.ToLower(getEnv("LLM_PROVIDER", "anthropic")),
			Model:       getEnv("LLM_MODEL", ""),
			APIKey:      getEnv("LLM_API_KEY", ""),
			Timeout:     getEnvAsDuration("LLM_TIMEOUT", 60*time.Second),
			MaxAttempts: getEnvAsInt("LLM_MAX_ATTEMPTS", 3),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(getEnv("STORE_DRIVER", "sqlite")),
			DSN:    getEnv("STORE_DSN", "lexgraph.db"),
		},
		Security: SecurityConfig{
			GuardURL:          getEnv("LAKERA_GUARD_URL", "https://api.lakera.ai/v2/guard"),
			GuardKey:          getEnv("LAKERA_GUARD_API_KEY", ""),
			GroundednessURL:   getEnv("UPSTAGE_BASE_URL", "https://api.upstage.ai/v1"),
			GroundednessKey:   getEnv("UPSTAGE_API_KEY", ""),
			GroundednessModel: getEnv("UPSTAGE_GROUNDEDNESS_MODEL", "groundedness-check-240502"),
			PIIPatternsFile:   getEnv("PII_PATTERNS_FILE", ""),
		},
		Law: LawConfig{
			BaseURL: getEnv("LAW_API_URL", "http://www.law.go.kr/DRF/lawSearch.do"),
			OC:      getEnv("LAW_API_OC", ""),
		},
		Weaviate: WeaviateConfig{
			Host:   getEnv("WEAVIATE_HOST", "localhost:8081"),
			Scheme: getEnv("WEAVIATE_SCHEME", "http"),
			Class:  getEnv("WEAVIATE_CLASS", "LegalDocument"),
			Limit:  getEnvAsInt("WEAVIATE_LIMIT", 5),
		},
		Redis: RedisConfig{
			URL:   getEnv("REDIS_URL", ""),
			Queue: getEnv("REDIS_QUEUE", "task_queue"),
		},
		Tracing: TracingConfig{
			Enabled: getEnvAsBool("TRACING_ENABLED", false),
		},
		Workflow: WorkflowConfig{
			HistoryBudget: getEnvAsInt("HISTORY_CHAR_BUDGET", 2000),
			MaxSteps:      getEnvAsInt("WORKFLOW_MAX_STEPS", 100),
			NodeTimeout:   getEnvAsDuration("NODE_TIMEOUT", 0),
		},
	}
}

// IsProduction reports whether APP_ENV is "production".
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// Validate rejects settings the process cannot start with.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "anthropic", "openai", "google", "mock":
	default:
		return fmt.Errorf("config: unknown LLM_PROVIDER %q", c.LLM.Provider)
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite", "mysql":
		if c.Store.DSN == "" {
			return fmt.Errorf("config: STORE_DSN is required for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.Store.Driver)
	}

	if c.LLM.MaxAttempts < 1 {
		return fmt.Errorf("config: LLM_MAX_ATTEMPTS must be >= 1, got %d", c.LLM.MaxAttempts)
	}
	if c.Workflow.HistoryBudget <= 0 {
		return fmt.Errorf("config: HISTORY_CHAR_BUDGET must be positive, got %d", c.Workflow.HistoryBudget)
	}
	if c.Workflow.MaxSteps <= 0 {
		return fmt.Errorf("config: WORKFLOW_MAX_STEPS must be positive, got %d", c.Workflow.MaxSteps)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}
