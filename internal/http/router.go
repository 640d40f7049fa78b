// Package httpapi wires the HTTP transport (Gin) to the intake services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Session IDs never reach logs or metric labels in full
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/ip-intake-backend/docs"
	"github.com/tbourn/ip-intake-backend/internal/config"
	"github.com/tbourn/ip-intake-backend/internal/http/handlers"
	"github.com/tbourn/ip-intake-backend/internal/http/middleware"
	"github.com/tbourn/ip-intake-backend/internal/repo"
)

// Services are the application dependencies the routes are bound to. DB
// holds the idempotency table and is normally the local SQLite database.
type Services struct {
	DB        *gorm.DB
	Sessions  handlers.SessionStore
	Chat      handlers.ChatRelay
	Storage   handlers.Persistence
	Templates handlers.Templates
	News      handlers.Headlines
}

// idemStore adapts the repository idempotency helpers to the validator
// lookup and to handlers.IdempotencyRecorder.
type idemStore struct {
	db  *gorm.DB
	ttl time.Duration
}

// Seen reports whether a still-valid record exists for (sessionID, key).
func (s idemStore) Seen(ctx context.Context, sessionID, key string, now time.Time) (bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.db, sessionID, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// Record stores the key. A concurrent duplicate is not an error: the action
// is already recorded.
func (s idemStore) Record(ctx context.Context, sessionID, key, action string, status int) error {
	_, err := repo.CreateIdempotency(ctx, s.db, sessionID, key, action, status, s.ttl)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil
	}
	return err
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and rate
// limiting, CORS and security headers, health and metrics endpoints, and then
// mounts the versioned public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Idempotency validator (before rate limiter to allow bypass on replay)
//  8. Rate limiter (per session/IP, bypass on replay)
//  9. CORS and Security headers
//  10. Gzip, except for the chat event stream
func RegisterRoutes(r *gin.Engine, svc Services, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	apiBase := cfg.APIBasePath
	sessionsBase := joinBase(apiBase, "/sessions")

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{middleware.HeaderIdempotencyKey},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit: the upload cap plus multipart overhead
	r.Use(limitBody(cfg.MaxUploadBytes + 1<<20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics("/metrics"))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Idempotency validation (before rate limiting)
	idem := idemStore{db: svc.DB, ttl: cfg.IdempotencyTTL}
	var lookup middleware.IdempotencyLookup
	if svc.DB != nil {
		lookup = idem.Seen
	}
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, lookup))

	// 8) Token-bucket rate limiter per session/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyBySessionOrIP("id"))
	r.Use(rl.Handler())

	// 9) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{"Origin", "Content-Type", "Accept", middleware.HeaderIdempotencyKey}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", middleware.HeaderIdempotencyReplayed}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist.
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS).
	// Session snapshots carry identity data and must not be cached.
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:      cfg.Security.EnableHSTS,
		HSTSMaxAge:      cfg.Security.HSTSMaxAge,
		NoStorePrefixes: []string{sessionsBase},
		EnablePolicy:    true,
	}))

	// 10) Compression; buffering would stall the SSE stream
	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPathsRegexs([]string{"^" + regexp.QuoteMeta(sessionsBase) + "/[^/]+/chat$"}),
	))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// API docs
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = apiBase
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	opts := handlers.Options{
		Sessions:       svc.Sessions,
		Chat:           svc.Chat,
		Storage:        svc.Storage,
		Templates:      svc.Templates,
		News:           svc.News,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}
	if svc.DB != nil {
		opts.Idempotency = idem
	}
	h := handlers.New(opts)

	// Public API
	api := groupWithPrefix(r, apiBase)
	{
		// Sessions
		api.POST("/sessions", h.CreateSession)
		s := api.Group("/sessions/:id")
		s.GET("", h.GetSession)
		s.POST("/navigate", h.Navigate)
		s.POST("/details", h.SubmitDetails)
		s.POST("/file", h.UploadFile)
		s.POST("/analysis", h.BeginAnalysis)
		s.POST("/consultation", h.RequestConsultation)
		s.POST("/payment", h.SubmitPayment)
		s.POST("/consult", h.SubmitConsult)

		// Quiz
		s.POST("/quiz/category", h.SelectQuizCategory)
		s.POST("/quiz", h.StartQuiz)
		s.POST("/quiz/answer", h.AnswerQuestion)
		s.POST("/quiz/next", h.NextQuestion)

		// Store and archive
		s.POST("/purchase", h.PurchaseTemplate)
		s.POST("/archive/lookup", h.LookupArchive)
		s.POST("/archive/select", h.SelectArchivedAudit)

		// Chat
		s.GET("/chat", h.ChatHistory)
		s.POST("/chat", h.PostChat)

		// Public
		api.POST("/mailing-list", h.JoinMailingList)
		api.GET("/templates", h.ListTemplates)
		api.GET("/news", h.ListNews)
		api.GET("/storage/mode", h.StorageMode)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

func joinBase(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	return base + p
}
