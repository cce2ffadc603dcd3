package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

const (
	DefaultTopic      = "AI in healthcare"
	DefaultOutputFile = "new-blog-post.md"
	DefaultModel      = "gemini-1.5-flash"
	DefaultSerperURL  = "https://google.serper.dev/search"
)

type Config struct {
	GoogleApiKey   string `mapstructure:"google_api_key"`
	SerperApiKey   string `mapstructure:"serper_api_key"`
	DatabaseURL    string `mapstructure:"database_url"`
	Model          string `mapstructure:"gemini_model"`
	Port           string `mapstructure:"port"`
	OutputFile     string `mapstructure:"output_file"`
	SerperURL      string `mapstructure:"serper_url"`
	SearchResults  int    `mapstructure:"search_results"`
	EmbeddingModel string `mapstructure:"embedding_model"`
	CollectionName string `mapstructure:"collection_name"`
	ChunkSize      int    `mapstructure:"chunk_size"`
	ChunkOverlap   int    `mapstructure:"chunk_overlap"`
	LogLevel       string `mapstructure:"log_level"`
}

var envBindings = map[string]string{
	"google_api_key":  "GOOGLE_API_KEY",
	"serper_api_key":  "SERPER_API_KEY",
	"database_url":    "DATABASE_URL",
	"gemini_model":    "GEMINI_MODEL",
	"port":            "PORT",
	"output_file":     "OUTPUT_FILE",
	"serper_url":      "SERPER_URL",
	"search_results":  "SEARCH_RESULTS",
	"embedding_model": "EMBEDDING_MODEL",
	"collection_name": "COLLECTION_NAME",
	"chunk_size":      "CHUNK_SIZE",
	"chunk_overlap":   "CHUNK_OVERLAP",
	"log_level":       "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("google_api_key", "")
	v.SetDefault("serper_api_key", "")
	v.SetDefault("database_url", "")
	v.SetDefault("gemini_model", DefaultModel)
	v.SetDefault("port", "8081")
	v.SetDefault("output_file", DefaultOutputFile)
	v.SetDefault("serper_url", DefaultSerperURL)
	v.SetDefault("search_results", 10)
	v.SetDefault("embedding_model", "gemini-embedding-001")
	v.SetDefault("collection_name", "crew_articles")
	v.SetDefault("chunk_size", 1000)
	v.SetDefault("chunk_overlap", 200)
	v.SetDefault("log_level", "info")
}

// Load reads configuration from defaults, an optional research-crew.yaml in the
// working directory, and the environment (environment wins).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("research-crew")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.SearchResults <= 0 {
		cfg.SearchResults = 10
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("chunk_overlap (%d) must be smaller than chunk_size (%d)", cfg.ChunkOverlap, cfg.ChunkSize)
	}

	return cfg, nil
}

// EnvKeys returns the keys as they were loaded at startup.
func (c *Config) EnvKeys() APIKeys {
	return APIKeys{Google: c.GoogleApiKey, Serper: c.SerperApiKey, Source: SourceEnvironment}
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
