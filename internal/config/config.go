// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, the two persistence backends, collaborator endpoints and keys,
// session limits, rate limiting and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "ip-intake-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
	Environment string  // DEPLOY_ENV, reported as deployment.environment
}

// LLMConfig selects the Gemini models.
type LLMConfig struct {
	APIKey         string // GEMINI_API_KEY; empty disables AI features
	AnalysisModel  string // GEMINI_ANALYSIS_MODEL
	FastModel      string // GEMINI_FAST_MODEL
	ThinkingBudget int    // GEMINI_THINKING_BUDGET, 0 leaves the model default
}

// MailConfig points at the hosted email functions.
type MailConfig struct {
	FunctionsURL string // FUNCTIONS_URL
	FunctionsKey string // FUNCTIONS_KEY (anon JWT)
}

// NewsConfig configures the headline board.
type NewsConfig struct {
	FeedURL string        // NEWS_FEED_URL
	Refresh time.Duration // NEWS_REFRESH
}

// PaymentsConfig tunes the simulated M-Pesa latency.
type PaymentsConfig struct {
	InitiateDelay time.Duration // MPESA_INITIATE_DELAY
	VerifyDelay   time.Duration // MPESA_VERIFY_DELAY
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // long enough for analysis and payment calls
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Persistence
	DBPath         string        // local SQLite path
	RemoteDSN      string        // hosted Postgres DSN; empty means local only
	StickyFallback time.Duration // stay local this long after a remote failure (0 = never)

	// Collaborators
	LLM      LLMConfig
	Mail     MailConfig
	News     NewsConfig
	Payments PaymentsConfig

	// Sessions
	SessionTTL      time.Duration // idle session eviction
	MaxUploadBytes  int64         // contract upload cap
	ConsultationFee int           // KES
	BookingURL      string        // scheduling page
	ChatMaxRunes    int           // chat utterance cap

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 120*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Persistence
		DBPath:         getenv("DB_PATH", "intake.db"),
		RemoteDSN:      strings.TrimSpace(getenv("REMOTE_DSN", "")),
		StickyFallback: getdur("STICKY_FALLBACK", 0),

		// Collaborators
		LLM: LLMConfig{
			APIKey:         strings.TrimSpace(getenv("GEMINI_API_KEY", "")),
			AnalysisModel:  getenv("GEMINI_ANALYSIS_MODEL", "gemini-3-pro-preview"),
			FastModel:      getenv("GEMINI_FAST_MODEL", "gemini-3-flash-preview"),
			ThinkingBudget: getint("GEMINI_THINKING_BUDGET", 0),
		},
		Mail: MailConfig{
			FunctionsURL: strings.TrimRight(strings.TrimSpace(getenv("FUNCTIONS_URL", "")), "/"),
			FunctionsKey: strings.TrimSpace(getenv("FUNCTIONS_KEY", "")),
		},
		News: NewsConfig{
			FeedURL: getenv("NEWS_FEED_URL", "https://api.rss2json.com/v1/api.json?rss_url=https%3A%2F%2Fwww.musicbusinessworldwide.com%2Ffeed%2F"),
			Refresh: getdur("NEWS_REFRESH", 15*time.Minute),
		},
		Payments: PaymentsConfig{
			InitiateDelay: getdur("MPESA_INITIATE_DELAY", 1500*time.Millisecond),
			VerifyDelay:   getdur("MPESA_VERIFY_DELAY", 5*time.Second),
		},

		// Sessions
		SessionTTL:      getdur("SESSION_TTL", 2*time.Hour),
		MaxUploadBytes:  int64(getint("MAX_UPLOAD_BYTES", 20<<20)),
		ConsultationFee: getint("CONSULTATION_FEE_KES", 5000),
		BookingURL:      getenv("BOOKING_URL", "https://calendly.com/khalwaleip/30min"),
		ChatMaxRunes:    getint("CHAT_MAX_RUNES", 4000),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "ip-intake-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
			Environment: getenv("DEPLOY_ENV", "development"),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.StickyFallback < 0 {
		return cfg, errors.New("STICKY_FALLBACK must be >= 0")
	}
	if cfg.LLM.ThinkingBudget < 0 {
		return cfg, errors.New("GEMINI_THINKING_BUDGET must be >= 0")
	}
	if strings.TrimSpace(cfg.LLM.AnalysisModel) == "" || strings.TrimSpace(cfg.LLM.FastModel) == "" {
		return cfg, errors.New("GEMINI model names must not be empty")
	}
	if cfg.News.Refresh <= 0 {
		return cfg, errors.New("NEWS_REFRESH must be > 0")
	}
	if cfg.Payments.InitiateDelay < 0 || cfg.Payments.VerifyDelay < 0 {
		return cfg, errors.New("MPESA delays must be >= 0")
	}
	if cfg.SessionTTL <= 0 {
		return cfg, errors.New("SESSION_TTL must be > 0")
	}
	if cfg.MaxUploadBytes <= 0 {
		return cfg, errors.New("MAX_UPLOAD_BYTES must be > 0")
	}
	if cfg.ConsultationFee <= 0 {
		return cfg, errors.New("CONSULTATION_FEE_KES must be > 0")
	}
	if cfg.ChatMaxRunes <= 0 {
		return cfg, errors.New("CHAT_MAX_RUNES must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
