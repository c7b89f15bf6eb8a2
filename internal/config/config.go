// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// TTS providers.
const (
	TTSProviderOpenAI = "openai"
	TTSProviderMock   = "mock"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	FrontendURL    string
	AllowedOrigins []string
	MockMode       bool
	DBPath         string
	PerceptionAddr string
	AMap           AMapConfig
	LLM            LLMConfig
	TTS            TTSConfig
	Nav            NavConfig
	Sweep          SweepConfig
}

// AMapConfig configures the walking route provider.
type AMapConfig struct {
	APIKey  string
	BaseURL string
}

// LLMConfig configures the dialogue model.
type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
}

// TTSConfig configures speech synthesis.
type TTSConfig struct {
	Provider  string
	Endpoint  string
	APIKey    string
	Voice     string
	OutputDir string
}

// NavConfig tunes the instruction dispatcher and progress tracking.
type NavConfig struct {
	TickInterval      time.Duration
	NoticeInterval    time.Duration
	ArrivalThreshold  float64
	WalkingSpeed      float64
	HeartbeatInterval time.Duration
}

// SweepConfig controls the session sweeper.
type SweepConfig struct {
	Interval  time.Duration
	IdleTTL   time.Duration
	Retention time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	frontend := getEnv("FRONTEND_URL", "")
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    frontend,
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", defaultOrigins(frontend)),
		MockMode:       getEnvBool("MOCK_MODE", false),
		DBPath:         getEnv("DB_PATH", "./data/wayfinder.db"),
		PerceptionAddr: getEnv("PERCEPTION_ADDR", ""),
		AMap: AMapConfig{
			APIKey:  getEnv("AMAP_API_KEY", ""),
			BaseURL: getEnv("AMAP_BASE_URL", "https://restapi.amap.com/v5"),
		},
		LLM: LLMConfig{
			APIKey:      getEnv("LLM_API_KEY", ""),
			BaseURL:     getEnv("LLM_API_BASE", ""),
			Model:       getEnv("LLM_MODEL", "gpt-4o-mini"),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.7),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 500),
		},
		TTS: TTSConfig{
			Provider:  strings.ToLower(getEnv("TTS_PROVIDER", TTSProviderOpenAI)),
			Endpoint:  getEnv("TTS_ENDPOINT", ""),
			APIKey:    getEnv("TTS_API_KEY", ""),
			Voice:     getEnv("TTS_VOICE", "alloy"),
			OutputDir: getEnv("AUDIO_OUTPUT_DIR", "./data/audio"),
		},
		Nav: NavConfig{
			TickInterval:      getEnvDuration("NAV_TICK_INTERVAL", time.Second),
			NoticeInterval:    getEnvDuration("NAV_NOTICE_INTERVAL", 4*time.Second),
			ArrivalThreshold:  getEnvFloat("NAV_ARRIVAL_THRESHOLD", 15),
			WalkingSpeed:      getEnvFloat("NAV_WALKING_SPEED", 1.2),
			HeartbeatInterval: getEnvDuration("WS_HEARTBEAT_INTERVAL", 30*time.Second),
		},
		Sweep: SweepConfig{
			Interval:  getEnvDuration("SESSION_SWEEP_INTERVAL", time.Minute),
			IdleTTL:   getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute),
			Retention: getEnvDuration("SESSION_RETENTION", 10*time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.TTS.OutputDir == "" {
		return fmt.Errorf("AUDIO_OUTPUT_DIR cannot be empty")
	}
	switch c.TTS.Provider {
	case TTSProviderOpenAI, TTSProviderMock:
	default:
		return fmt.Errorf("TTS_PROVIDER must be %q or %q, got %q", TTSProviderOpenAI, TTSProviderMock, c.TTS.Provider)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("LLM_TEMPERATURE must be within [0, 2]")
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("LLM_MAX_TOKENS must be > 0")
	}
	if c.Nav.TickInterval <= 0 {
		return fmt.Errorf("NAV_TICK_INTERVAL must be > 0")
	}
	if c.Nav.NoticeInterval <= 0 {
		return fmt.Errorf("NAV_NOTICE_INTERVAL must be > 0")
	}
	if c.Nav.ArrivalThreshold <= 0 {
		return fmt.Errorf("NAV_ARRIVAL_THRESHOLD must be > 0")
	}
	if c.Nav.WalkingSpeed <= 0 {
		return fmt.Errorf("NAV_WALKING_SPEED must be > 0")
	}
	if c.Nav.HeartbeatInterval <= 0 {
		return fmt.Errorf("WS_HEARTBEAT_INTERVAL must be > 0")
	}
	if c.Sweep.Interval <= 0 || c.Sweep.IdleTTL <= 0 || c.Sweep.Retention <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL, SESSION_IDLE_TTL and SESSION_RETENTION must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// UseMockPlanner reports whether routes come from the straight-line planner only.
func (c *Config) UseMockPlanner() bool {
	return c.MockMode || c.AMap.APIKey == ""
}

// UseMockDialogue reports whether replies come from the rule-based converser only.
func (c *Config) UseMockDialogue() bool {
	return c.MockMode || c.LLM.APIKey == ""
}

// UseMockSpeech reports whether audio URLs are placeholders.
func (c *Config) UseMockSpeech() bool {
	return c.MockMode || c.TTS.Provider == TTSProviderMock || c.TTS.APIKey == ""
}

func defaultOrigins(frontend string) []string {
	origins := []string{"http://localhost:3000", "http://localhost:5173"}
	if frontend != "" {
		origins = append(origins, frontend)
	}
	return origins
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("1500ms") or plain seconds ("30").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
