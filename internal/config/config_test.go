package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Port:                 "3001",
		DatabaseURL:          "./data/test.db",
		LLMBaseURL:           "https://api.example.com/v1",
		LLMAPIKey:            "key",
		AnalysisModel:        "gpt-4o-mini",
		DraftModel:           "gpt-4o",
		EmbeddingModel:       "text-embedding-3-small",
		EmbeddingDim:         1536,
		MaxMemoryTurns:       10,
		DefaultLanguage:      "zh-TW",
		PipelineStrategy:     "full",
		CareEscalationTurns:  2,
		CrisisHotlines:       []string{"1995", "1925"},
		AnalyzerTimeout:      5 * time.Second,
		DrafterTimeout:       15 * time.Second,
		ShaperTimeout:        5 * time.Second,
		CleanerTimeout:       3 * time.Second,
		EmbeddingTimeout:     5 * time.Second,
		PersonaShaperEnabled: true,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing database", func(c *Config) { c.DatabaseURL = "" }, true},
		{"missing llm url", func(c *Config) { c.LLMBaseURL = "" }, true},
		{"missing api key", func(c *Config) { c.LLMAPIKey = "" }, true},
		{"zero embedding dim", func(c *Config) { c.EmbeddingDim = 0 }, true},
		{"bad strategy", func(c *Config) { c.PipelineStrategy = "turbo" }, true},
		{"fast strategy ok", func(c *Config) { c.PipelineStrategy = "fast" }, false},
		{"no hotlines", func(c *Config) { c.CrisisHotlines = nil }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPrimaryHotline(t *testing.T) {
	cfg := validConfig()
	if got := cfg.PrimaryHotline(); got != "1995" {
		t.Errorf("PrimaryHotline() = %q, want 1995", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "3001" {
		t.Errorf("Port = %q, want 3001", cfg.Port)
	}
	if cfg.PipelineStrategy != "full" {
		t.Errorf("PipelineStrategy = %q, want full", cfg.PipelineStrategy)
	}
	if len(cfg.CrisisHotlines) == 0 || cfg.CrisisHotlines[0] != "1995" {
		t.Errorf("CrisisHotlines = %v, want 1995 first", cfg.CrisisHotlines)
	}
	if cfg.CareEscalationTurns != 2 {
		t.Errorf("CareEscalationTurns = %d, want 2", cfg.CareEscalationTurns)
	}
}
