package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig     `json:"server"`
	Providers []ProviderConfig `json:"providers"`
	Roles     RolesConfig      `json:"roles"`
	Review    ReviewConfig     `json:"review"`
	Database  DatabaseConfig   `json:"database"`
	Reference ReferenceConfig  `json:"reference"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type ProviderConfig struct {
	ID       string                  `json:"id"`
	Type     string                  `json:"type"`
	Name     string                  `json:"name"`
	Endpoint string                  `json:"endpoint"`
	APIKey   string                  `json:"api_key"`
	Pricing  map[string]PricingEntry `json:"pricing,omitempty"`
}

// PricingEntry is the USD rate per 1K tokens for one model.
type PricingEntry struct {
	InputPer1K  float64 `json:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k"`
}

// RolesConfig binds each agent role to a provider and model. Default applies
// to any role without an explicit binding.
type RolesConfig struct {
	Default         RoleBinding `json:"default"`
	Generator       RoleBinding `json:"generator"`
	LegalReviewer   RoleBinding `json:"legal_reviewer"`
	TextualReviewer RoleBinding `json:"textual_reviewer"`
}

type RoleBinding struct {
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	MaxTokens      int    `json:"max_tokens"`
}

// ReviewConfig tunes the consensus policy. MaxCorrections left unset defaults
// to 1; a negative value disables the correction pass.
type ReviewConfig struct {
	ScoreThreshold float64 `json:"score_threshold"`
	SimilarityMin  float64 `json:"similarity_min"`
	MaxCorrections int     `json:"max_corrections"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

// ReferenceConfig controls retrieval of stored reference material.
type ReferenceConfig struct {
	Enabled    bool            `json:"enabled"`
	Collection string          `json:"collection"`
	TopK       int             `json:"top_k"`
	Qdrant     QdrantConfig    `json:"qdrant"`
	Embedding  EmbeddingConfig `json:"embedding"`
}

type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type EmbeddingConfig struct {
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if cfg.Review.MaxCorrections == 0 {
		cfg.Review.MaxCorrections = 1
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("no providers configured")
	}
	ids := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider with empty id")
		}
		if ids[p.ID] {
			return fmt.Errorf("duplicate provider id %q", p.ID)
		}
		ids[p.ID] = true
	}
	if c.Roles.Default.Provider != "" && !ids[c.Roles.Default.Provider] {
		return fmt.Errorf("default role binding references unknown provider %q", c.Roles.Default.Provider)
	}
	return nil
}
