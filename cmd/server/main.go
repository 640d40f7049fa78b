// Command server runs the IP intake HTTP API.
//
//	@title			IP Intake API
//	@version		1.0
//	@description	Client intake for an intellectual-property law practice: contract audits, paid consultations, a legal-literacy quiz, a template store and an AI assistant.
//	@BasePath		/api/v1
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/ip-intake-backend/internal/catalog"
	"github.com/tbourn/ip-intake-backend/internal/config"
	httpapi "github.com/tbourn/ip-intake-backend/internal/http"
	"github.com/tbourn/ip-intake-backend/internal/intake"
	"github.com/tbourn/ip-intake-backend/internal/llm"
	"github.com/tbourn/ip-intake-backend/internal/mailer"
	"github.com/tbourn/ip-intake-backend/internal/news"
	"github.com/tbourn/ip-intake-backend/internal/observability"
	"github.com/tbourn/ip-intake-backend/internal/payments"
	"github.com/tbourn/ip-intake-backend/internal/repo"
	"github.com/tbourn/ip-intake-backend/internal/services"
	"github.com/tbourn/ip-intake-backend/internal/storage"
	"github.com/tbourn/ip-intake-backend/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	shutdownGrace     = 15 * time.Second
	idempotencySweep  = time.Hour
	sessionSweepEvery = 0 // a quarter of the session TTL
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.SetLogLevel(cfg.LogLevel)
	log := sysutil.NewLogger(os.Stderr, cfg.LogPretty, sysutil.FirstNonEmpty(cfg.OTEL.ServiceName, "ip-intake-backend"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	// Persistence
	localDB, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	if err := repo.AutoMigrateLocal(localDB); err != nil {
		return err
	}
	defer closeDB(localDB, log)

	var remote storage.Store
	if storage.RemoteConfigured(cfg.RemoteDSN) {
		remoteDB, err := repo.OpenPostgres(cfg.RemoteDSN)
		if err != nil {
			return err
		}
		// An unreachable remote is not fatal; the gateway falls back per call.
		if err := repo.AutoMigrate(remoteDB); err != nil {
			log.Warn().Err(err).Msg("remote store migration failed")
		}
		defer closeDB(remoteDB, log)
		remote = storage.NewGormStore("remote", remoteDB)
	} else {
		log.Info().Msg("no remote store configured; persisting locally")
	}
	gw := storage.NewGateway(remote, storage.NewGormStore("local", localDB), storage.Options{
		StickyFor: cfg.StickyFallback,
		Logger:    log.With().Str("component", "storage").Logger(),
	})

	// Collaborators
	model, err := llm.New(ctx, llm.Config{
		APIKey:         cfg.LLM.APIKey,
		AnalysisModel:  cfg.LLM.AnalysisModel,
		FastModel:      cfg.LLM.FastModel,
		ThinkingBudget: int32(cfg.LLM.ThinkingBudget),
	}, log.With().Str("component", "llm").Logger())
	if err != nil {
		return err
	}
	mail := mailer.New(cfg.Mail.FunctionsURL, cfg.Mail.FunctionsKey, log.With().Str("component", "mailer").Logger())
	board := news.NewBoard(&news.Fetcher{
		URL:    cfg.News.FeedURL,
		Client: &http.Client{Timeout: 10 * time.Second},
		Logger: log.With().Str("component", "news").Logger(),
	}, cfg.News.Refresh, log.With().Str("component", "news").Logger())

	registry := intake.NewRegistry(intake.Deps{
		Analyzer:        model,
		Briefs:          model,
		Quiz:            model,
		Payments:        payments.NewSimulator(cfg.Payments.InitiateDelay, cfg.Payments.VerifyDelay, log.With().Str("component", "payments").Logger()),
		Mailer:          mail,
		Store:           gw,
		ConsultationFee: cfg.ConsultationFee,
		BookingURL:      cfg.BookingURL,
		Logger:          log.With().Str("component", "intake").Logger(),
	}, cfg.SessionTTL)

	chat := services.NewChatService(model, mail, log.With().Str("component", "chat").Logger())
	chat.MaxPromptRunes = cfg.ChatMaxRunes
	chat.IdleTTL = cfg.SessionTTL

	// HTTP
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Services{
		DB:        localDB,
		Sessions:  registry,
		Chat:      chat,
		Storage:   gw,
		Templates: catalog.Default(),
		News:      board,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		log.Info().Msg("shutting down http server")
		return srv.Shutdown(sctx)
	})
	eg.Go(func() error { return board.Run(egCtx) })
	eg.Go(func() error { return registry.Run(egCtx, sessionSweepEvery) })
	eg.Go(func() error { return purgeIdempotency(egCtx, localDB, log) })

	return eg.Wait()
}

// purgeIdempotency deletes expired Idempotency-Key records until ctx is done.
func purgeIdempotency(ctx context.Context, db *gorm.DB, log zerolog.Logger) error {
	t := time.NewTicker(idempotencySweep)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("idempotency purge failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("deleted", n).Msg("expired idempotency keys purged")
			}
		}
	}
}

func closeDB(db *gorm.DB, log zerolog.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn().Err(err).Msg("close database")
	}
}
