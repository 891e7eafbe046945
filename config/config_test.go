package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.App.Port)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 2000, cfg.Workflow.HistoryBudget)
	assert.Equal(t, 100, cfg.Workflow.MaxSteps)
	assert.Equal(t, "task_queue", cfg.Redis.Queue)
	assert.Equal(t, "groundedness-check-240502", cfg.Security.GroundednessModel)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LLM_PROVIDER", "OpenAI")
	t.Setenv("LLM_TIMEOUT", "5s")
	t.Setenv("LLM_MAX_ATTEMPTS", "7")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("WEAVIATE_LIMIT", "not-a-number")
	t.Setenv("APP_ENV", "production")

	cfg := Load()

	assert.Equal(t, "9090", cfg.App.Port)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 5*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 7, cfg.LLM.MaxAttempts)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, 5, cfg.Weaviate.Limit, "unparseable ints fall back to the default")
	assert.True(t, cfg.IsProduction())
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			LLM:      LLMConfig{Provider: "mock", MaxAttempts: 1},
			Store:    StoreConfig{Driver: "memory"},
			Workflow: WorkflowConfig{HistoryBudget: 2000, MaxSteps: 100},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "llama" }, "LLM_PROVIDER"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "postgres" }, "STORE_DRIVER"},
		{"sqlite without dsn", func(c *Config) { c.Store.Driver = "sqlite" }, "STORE_DSN"},
		{"zero attempts", func(c *Config) { c.LLM.MaxAttempts = 0 }, "LLM_MAX_ATTEMPTS"},
		{"zero budget", func(c *Config) { c.Workflow.HistoryBudget = 0 }, "HISTORY_CHAR_BUDGET"},
		{"zero steps", func(c *Config) { c.Workflow.MaxSteps = 0 }, "WORKFLOW_MAX_STEPS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
