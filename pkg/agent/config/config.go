// Package config loads and validates the agent's environment configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/husainf4l/rolevatev7/pkg/recording"
	"github.com/husainf4l/rolevatev7/pkg/state"
	"github.com/husainf4l/rolevatev7/pkg/transcript"
)

// Generation provider names accepted by AGENT_GENERATION_PROVIDER.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Capture start must stay inside the hard session-setup budget.
const (
	captureTimeoutMin = 10 * time.Second
	captureTimeoutMax = 15 * time.Second
)

type Config struct {
	Addr string

	LogLevel  string
	LogFormat string

	// Bearer tokens accepted on the serving surface. Empty disables auth.
	AuthTokens map[string]struct{}

	// CORS allowlist. Empty disables CORS headers entirely.
	CORSAllowedOrigins map[string]struct{}

	// Backend of record (GraphQL over HTTP).
	GraphQLEndpoint string
	BackendAPIKey   string

	// Conversation store.
	StoreBackend        string
	DatabaseURL         string
	StoreConnectTimeout time.Duration

	// Generation provider.
	GenerationProvider string
	GenerationAPIKey   string
	GenerationModel    string

	// Capture service. An empty base URL disables capture; sessions then
	// always use the deterministic fallback media URL.
	CaptureBaseURL      string
	CaptureToken        string
	CaptureStartTimeout time.Duration

	// Fallback media location.
	MediaBucket string
	MediaRegion string

	// Session limits.
	MaxSessions             int
	TranscriptQueueCapacity int

	// Live WebSocket behavior. A zero read timeout disables the idle
	// deadline; protocol pings still flow either way.
	WSPingInterval    time.Duration
	WSWriteTimeout    time.Duration
	WSReadTimeout     time.Duration
	WSMaxMessageBytes int64

	// TurnTimeout bounds one generation turn end to end.
	TurnTimeout time.Duration

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                    envOr("AGENT_ADDR", ":8080"),
		LogLevel:                strings.ToLower(envOr("AGENT_LOG_LEVEL", "info")),
		LogFormat:               strings.ToLower(envOr("AGENT_LOG_FORMAT", "text")),
		AuthTokens:              make(map[string]struct{}),
		CORSAllowedOrigins:      make(map[string]struct{}),
		GraphQLEndpoint:         envOr("GRAPHQL_ENDPOINT", ""),
		BackendAPIKey:           envOr("ROLEVATE_API_KEY", ""),
		StoreBackend:            strings.ToLower(envOr("AGENT_STORE_BACKEND", state.BackendAuto)),
		DatabaseURL:             envOr("DATABASE_URL", ""),
		StoreConnectTimeout:     envDurationOr("AGENT_STORE_CONNECT_TIMEOUT", 5*time.Second),
		GenerationProvider:      strings.ToLower(envOr("AGENT_GENERATION_PROVIDER", ProviderOpenAI)),
		GenerationAPIKey:        envOr("AGENT_GENERATION_API_KEY", ""),
		GenerationModel:         envOr("AGENT_GENERATION_MODEL", ""),
		CaptureBaseURL:          envOr("CAPTURE_BASE_URL", ""),
		CaptureToken:            envOr("CAPTURE_API_TOKEN", ""),
		CaptureStartTimeout:     envDurationOr("AGENT_CAPTURE_START_TIMEOUT", recording.DefaultStartTimeout),
		MediaBucket:             envOr("AWS_BUCKET_NAME", recording.DefaultBucket),
		MediaRegion:             envOr("AWS_REGION", recording.DefaultRegion),
		MaxSessions:             envIntOr("AGENT_MAX_SESSIONS", 64),
		TranscriptQueueCapacity: envIntOr("AGENT_TRANSCRIPT_QUEUE_CAPACITY", transcript.DefaultQueueCapacity),
		WSPingInterval:          envDurationOr("AGENT_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:          envDurationOr("AGENT_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadTimeout:           envDurationOr("AGENT_WS_READ_TIMEOUT", 0),
		WSMaxMessageBytes:       envInt64Or("AGENT_WS_MAX_MESSAGE_BYTES", 64<<10),
		TurnTimeout:             envDurationOr("AGENT_TURN_TIMEOUT", 30*time.Second),
		ReadHeaderTimeout:       envDurationOr("AGENT_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:     envDurationOr("AGENT_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	for _, token := range splitCSV(os.Getenv("AGENT_AUTH_TOKENS")) {
		cfg.AuthTokens[token] = struct{}{}
	}
	for _, origin := range splitCSV(os.Getenv("AGENT_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	// Provider API keys follow the {PROVIDER}_API_KEY convention when no
	// explicit key is set.
	if cfg.GenerationAPIKey == "" {
		cfg.GenerationAPIKey = strings.TrimSpace(os.Getenv(providerKeyEnv(cfg.GenerationProvider)))
	}

	if cfg.CaptureStartTimeout < captureTimeoutMin {
		cfg.CaptureStartTimeout = captureTimeoutMin
	}
	if cfg.CaptureStartTimeout > captureTimeoutMax {
		cfg.CaptureStartTimeout = captureTimeoutMax
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("AGENT_LOG_LEVEL must be one of debug|info|warn|error")
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return Config{}, fmt.Errorf("AGENT_LOG_FORMAT must be one of text|json")
	}
	if cfg.GraphQLEndpoint == "" {
		return Config{}, fmt.Errorf("GRAPHQL_ENDPOINT must be set")
	}
	if cfg.BackendAPIKey == "" {
		return Config{}, fmt.Errorf("ROLEVATE_API_KEY must be set")
	}
	switch cfg.StoreBackend {
	case state.BackendAuto, state.BackendPostgres, state.BackendMemory:
	default:
		return Config{}, fmt.Errorf("AGENT_STORE_BACKEND must be one of auto|postgres|memory")
	}
	if cfg.StoreBackend == state.BackendPostgres && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set when AGENT_STORE_BACKEND=postgres")
	}
	if cfg.StoreConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("AGENT_STORE_CONNECT_TIMEOUT must be > 0")
	}
	switch cfg.GenerationProvider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return Config{}, fmt.Errorf("AGENT_GENERATION_PROVIDER must be one of openai|gemini")
	}
	if cfg.GenerationAPIKey == "" {
		return Config{}, fmt.Errorf("AGENT_GENERATION_API_KEY or %s must be set", providerKeyEnv(cfg.GenerationProvider))
	}
	if cfg.CaptureBaseURL != "" && cfg.CaptureToken == "" {
		return Config{}, fmt.Errorf("CAPTURE_API_TOKEN must be set when CAPTURE_BASE_URL is set")
	}
	if cfg.MaxSessions <= 0 {
		return Config{}, fmt.Errorf("AGENT_MAX_SESSIONS must be > 0")
	}
	if cfg.TranscriptQueueCapacity <= 0 {
		return Config{}, fmt.Errorf("AGENT_TRANSCRIPT_QUEUE_CAPACITY must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("AGENT_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("AGENT_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSReadTimeout < 0 {
		return Config{}, fmt.Errorf("AGENT_WS_READ_TIMEOUT must be >= 0")
	}
	if cfg.WSMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("AGENT_WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.TurnTimeout <= 0 {
		return Config{}, fmt.Errorf("AGENT_TURN_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("AGENT_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("AGENT_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

// Level maps the configured log level to its slog value.
func (c Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// AuthEnabled reports whether the serving surface requires a bearer token.
func (c Config) AuthEnabled() bool { return len(c.AuthTokens) > 0 }

// CaptureEnabled reports whether a capture service is configured.
func (c Config) CaptureEnabled() bool { return c.CaptureBaseURL != "" }

func providerKeyEnv(provider string) string {
	return strings.ToUpper(strings.ReplaceAll(provider, "-", "_")) + "_API_KEY"
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
