// Package config loads snap2serve settings from config.json, .env and the
// environment, in increasing order of precedence.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Backends that can serve detection and recommendation.
const (
	BackendHTTP   = "http"
	BackendGemini = "gemini"
	BackendLocal  = "local"
)

// Config represents the application configuration.
type Config struct {
	ListenAddr   string   `json:"listen_addr"`
	AllowOrigins []string `json:"allow_origins"`

	Backend          string `json:"backend"`
	DetectionBaseURL string `json:"detection_base_url"`
	DetectionPath    string `json:"detection_path"`
	RecommendBaseURL string `json:"recommend_base_url"`
	RecommendPath    string `json:"recommend_path"`
	RecommendShape   string `json:"recommend_shape"`

	GeminiAPIKey  string `json:"gemini_api_key"`
	GeminiModel   string `json:"gemini_model"`
	LocalLLMURL   string `json:"local_llm_url"`
	LocalLLMModel string `json:"local_llm_model"`

	DatabaseURL string `json:"DATABASE_URL"`
	LogLevel    string `json:"log_level"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		ListenAddr:    ":8080",
		AllowOrigins:  []string{"http://localhost:3000"},
		Backend:       BackendHTTP,
		GeminiModel:   "gemini-1.5-flash",
		LocalLLMURL:   "http://localhost:1234/v1/chat/completions",
		LocalLLMModel: "gemma-3-12b-it:2",
		LogLevel:      "info",
	}
}

// Load reads path (skipped when it does not exist), then .env, then the
// environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("failed to read %s: %w", path, err)
		default:
			if err := json.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to unmarshal %s: %w", path, err)
			}
		}
	}

	_ = godotenv.Load()
	cfg.applyEnv()

	return cfg, cfg.Validate()
}

func getEnv(k string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		*dst = v
	}
}

func (c *Config) applyEnv() {
	getEnv("LISTEN_ADDR", &c.ListenAddr)
	if v := os.Getenv("ALLOW_ORIGINS"); v != "" {
		c.AllowOrigins = splitList(v)
	}

	getEnv("BACKEND", &c.Backend)
	// BACKEND_URL serves both collaborators unless a specific one is set
	getEnv("BACKEND_URL", &c.DetectionBaseURL)
	getEnv("BACKEND_URL", &c.RecommendBaseURL)
	getEnv("DETECTION_BASE_URL", &c.DetectionBaseURL)
	getEnv("DETECTION_PATH", &c.DetectionPath)
	getEnv("RECOMMEND_BASE_URL", &c.RecommendBaseURL)
	getEnv("RECOMMEND_PATH", &c.RecommendPath)
	getEnv("RECOMMEND_SHAPE", &c.RecommendShape)

	getEnv("GEMINI_API_KEY", &c.GeminiAPIKey)
	getEnv("GEMINI_MODEL", &c.GeminiModel)
	getEnv("LOCAL_LLM_URL", &c.LocalLLMURL)
	getEnv("LOCAL_LLM_MODEL", &c.LocalLLMModel)

	getEnv("DATABASE_URL", &c.DatabaseURL)
	getEnv("LOG_LEVEL", &c.LogLevel)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendHTTP:
		if c.DetectionBaseURL == "" || c.RecommendBaseURL == "" {
			return errors.New("http backend needs DETECTION_BASE_URL and RECOMMEND_BASE_URL (or BACKEND_URL)")
		}
	case BackendGemini:
		if c.GeminiAPIKey == "" {
			return errors.New("gemini backend needs GEMINI_API_KEY")
		}
	case BackendLocal:
		if c.LocalLLMURL == "" {
			return errors.New("local backend needs LOCAL_LLM_URL")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level.
func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}

// NewLogger builds the process logger.
func (c Config) NewLogger() *slog.Logger {
	lvl, _ := c.SlogLevel()
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
