package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type EnvConfig struct {
	ConfigPath string
	LogLevel   string
	GitHub     GitHubEnvConfig
	RateLimit  RateLimitEnvConfig
	OTel       OTelEnvConfig
	Metrics    MetricsEnvConfig
	History    HistoryEnvConfig
}

type GitHubEnvConfig struct {
	Token       string
	BaseURL     string
	HTTPTimeout time.Duration
	UserAgent   string
	PerPage     int
	MaxAttempts int
}

type RateLimitEnvConfig struct {
	// RequestsPerMinute paces requests locally; 0 disables pacing.
	RequestsPerMinute float64
	Burst             int
	ResetMargin       time.Duration
	Jitter            time.Duration
	// MaxQuotaWait caps a single wait for a quota reset; 0 means unlimited.
	MaxQuotaWait time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
}

type OTelEnvConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
	Protocol    string // "grpc" or "http/protobuf"
	Headers     map[string]string
	Insecure    bool
	SampleRatio float64
}

type MetricsEnvConfig struct {
	// Addr is the listen address of the /metrics server; empty disables it.
	Addr string
}

type HistoryEnvConfig struct {
	// DBPath is the SQLite run history file; empty disables history.
	DBPath string
}

func LoadEnv() EnvConfig {
	otlpEndpoint := strings.TrimSpace(envString("OTEL_EXPORTER_OTLP_ENDPOINT", ""))

	token := envString("GHSEARCH_GITHUB_TOKEN", "")
	if token == "" {
		token = envString("GITHUB_TOKEN", "")
	}

	return EnvConfig{
		ConfigPath: envString("GHSEARCH_CONFIG", ""),
		LogLevel:   strings.ToUpper(envString("LOG_LEVEL", "INFO")),
		GitHub: GitHubEnvConfig{
			Token:       token,
			BaseURL:     envString("GHSEARCH_API_BASE_URL", "https://api.github.com"),
			HTTPTimeout: envDuration("GHSEARCH_HTTP_TIMEOUT", 30*time.Second),
			UserAgent:   envString("GHSEARCH_USER_AGENT", "ghsearch-feed/0.1"),
			PerPage:     envInt("GHSEARCH_PER_PAGE", 100),
			MaxAttempts: envInt("GHSEARCH_MAX_ATTEMPTS", 4),
		},
		RateLimit: RateLimitEnvConfig{
			RequestsPerMinute: envFloat("GHSEARCH_REQUESTS_PER_MINUTE", 10),
			Burst:             envInt("GHSEARCH_REQUEST_BURST", 10),
			ResetMargin:       envDuration("GHSEARCH_RESET_MARGIN", time.Second),
			Jitter:            envDuration("GHSEARCH_QUOTA_JITTER", 0),
			MaxQuotaWait:      envDuration("GHSEARCH_MAX_QUOTA_WAIT", 0),
			BackoffBase:       envDuration("GHSEARCH_BACKOFF_BASE", time.Second),
			BackoffMax:        envDuration("GHSEARCH_BACKOFF_MAX", 30*time.Second),
		},
		OTel: OTelEnvConfig{
			Enabled:     envBool("OTEL_ENABLED", false),
			ServiceName: strings.TrimSpace(envString("OTEL_SERVICE_NAME", "ghsearch-feed")),
			Endpoint:    otlpEndpoint,
			Protocol:    strings.ToLower(strings.TrimSpace(envString("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			Headers:     parseHeaders(envString("OTEL_EXPORTER_OTLP_HEADERS", "")),
			Insecure:    envBool("OTEL_EXPORTER_OTLP_INSECURE", defaultInsecure(otlpEndpoint)),
			SampleRatio: clamp01(envFloat("OTEL_TRACES_SAMPLE_RATIO", 1.0)),
		},
		Metrics: MetricsEnvConfig{
			Addr: envString("GHSEARCH_METRICS_ADDR", ""),
		},
		History: HistoryEnvConfig{
			DBPath: envString("GHSEARCH_HISTORY_DB", ""),
		},
	}
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := parseDurationExtended(v)
	if err != nil {
		return fallback
	}
	return d
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func parseHeaders(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	out := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func defaultInsecure(endpoint string) bool {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return true
	}
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return u.Scheme == "http"
	}
	return strings.HasPrefix(endpoint, "localhost:") ||
		strings.HasPrefix(endpoint, "127.0.0.1:") ||
		strings.HasPrefix(endpoint, "0.0.0.0:")
}
