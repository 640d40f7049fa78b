package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/ip-intake-backend/internal/domain"
)

// Mode is the backend the gateway currently believes is serving writes.
type Mode string

const (
	ModeRemote Mode = "remote"
	ModeLocal  Mode = "local"
	ModeError  Mode = "error"
)

// Options tunes a Gateway.
type Options struct {
	// StickyFor keeps the gateway on the local store for this long after a
	// remote failure. Zero re-attempts remote on every call.
	StickyFor time.Duration
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Gateway composes a remote and a local Store.
//
// The cached mode is advisory: calls never skip the remote store because of
// it, except inside an explicitly configured sticky window. A remote failure
// downgrades to local, the next remote success upgrades back.
type Gateway struct {
	remote Store // nil when no remote backend is configured
	local  Store

	stickyFor time.Duration
	now       func() time.Time
	log       zerolog.Logger

	mu          sync.RWMutex
	mode        Mode
	stickyUntil time.Time
}

// NewGateway returns a gateway whose initial mode is remote when a remote
// store is given, else local.
func NewGateway(remote, local Store, opts Options) *Gateway {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	g := &Gateway{
		remote:    remote,
		local:     local,
		stickyFor: opts.StickyFor,
		now:       now,
		log:       opts.Logger,
		mode:      ModeLocal,
	}
	if remote != nil {
		g.mode = ModeRemote
	}
	modeGauge.WithLabelValues(string(g.mode)).Set(1)
	return g
}

// Mode returns the last recorded persistence mode.
func (g *Gateway) Mode() Mode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.mode
}

func (g *Gateway) setMode(m Mode) {
	g.mu.Lock()
	prev := g.mode
	g.mode = m
	if m == ModeRemote {
		g.stickyUntil = time.Time{}
	}
	g.mu.Unlock()
	if prev != m {
		modeGauge.WithLabelValues(string(prev)).Set(0)
		modeGauge.WithLabelValues(string(m)).Set(1)
		g.log.Info().Str("from", string(prev)).Str("to", string(m)).Msg("persistence mode changed")
	}
}

// remoteFailed opens the sticky window, if one is configured. Only an actual
// remote error opens it, so local successes inside the window never extend it.
func (g *Gateway) remoteFailed() {
	if g.stickyFor <= 0 {
		return
	}
	g.mu.Lock()
	g.stickyUntil = g.now().Add(g.stickyFor)
	g.mu.Unlock()
}

// shouldTryRemote is false only without a remote store or inside a sticky
// window.
func (g *Gateway) shouldTryRemote() bool {
	if g.remote == nil {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.stickyUntil.IsZero() || !g.now().Before(g.stickyUntil)
}

func (g *Gateway) span(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer("storage/Gateway").Start(ctx, name,
		trace.WithAttributes(attribute.String("storage.mode", string(g.Mode()))))
}

// PersistMailingList upserts a signup on the remote store only. There is no
// local fallback for signups; a failure is reported as false.
func (g *Gateway) PersistMailingList(ctx context.Context, s Signup) bool {
	ctx, span := g.span(ctx, "PersistMailingList")
	defer span.End()

	if g.remote == nil {
		observe("mailing", "remote", resultSkipped)
		return false
	}
	if err := g.remote.UpsertMailing(ctx, s); err != nil {
		observe("mailing", g.remote.Name(), resultError)
		span.RecordError(err)
		g.log.Error().Err(err).Msg("mailing list sync failed")
		g.remoteFailed()
		return false
	}
	observe("mailing", g.remote.Name(), resultOK)
	g.setMode(ModeRemote)
	return true
}

// PersistClient upserts a client on the remote store, falling back to the
// local store. It returns the client ID assigned by whichever store served
// the call and the resulting mode.
func (g *Gateway) PersistClient(ctx context.Context, id Identity) (string, Mode) {
	ctx, span := g.span(ctx, "PersistClient")
	defer span.End()

	if g.shouldTryRemote() {
		c, err := g.remote.UpsertClient(ctx, id)
		if err == nil {
			observe("client", g.remote.Name(), resultOK)
			g.setMode(ModeRemote)
			return c.ID, ModeRemote
		}
		observe("client", g.remote.Name(), resultError)
		span.RecordError(err)
		g.log.Warn().Err(err).Msg("remote client upsert failed, using local store")
		g.remoteFailed()
	}

	c, err := g.local.UpsertClient(ctx, id)
	if err != nil {
		observe("client", g.local.Name(), resultError)
		span.RecordError(err)
		g.log.Error().Err(err).Msg("local client upsert failed")
		g.setMode(ModeError)
		return "", ModeError
	}
	observe("client", g.local.Name(), resultOK)
	g.setMode(ModeLocal)
	return c.ID, ModeLocal
}

// PersistAudit appends an audit tagged with the placeholder risk score.
func (g *Gateway) PersistAudit(ctx context.Context, clientID, contractName, analysis string) Mode {
	ctx, span := g.span(ctx, "PersistAudit")
	defer span.End()

	if g.shouldTryRemote() {
		_, err := g.remote.CreateAudit(ctx, clientID, contractName, analysis)
		if err == nil {
			observe("audit", g.remote.Name(), resultOK)
			g.setMode(ModeRemote)
			return ModeRemote
		}
		observe("audit", g.remote.Name(), resultError)
		span.RecordError(err)
		g.log.Warn().Err(err).Msg("remote audit insert failed, using local store")
		g.remoteFailed()
	}

	if _, err := g.local.CreateAudit(ctx, clientID, contractName, analysis); err != nil {
		observe("audit", g.local.Name(), resultError)
		span.RecordError(err)
		g.log.Error().Err(err).Msg("local audit insert failed")
		g.setMode(ModeError)
		return ModeError
	}
	observe("audit", g.local.Name(), resultOK)
	g.setMode(ModeLocal)
	return ModeLocal
}

// FetchAuditsBySecurityPair returns the audits of the client whose email
// and whatsapp both match, newest first. A mismatch yields an empty list and
// no error; so does a failure of both stores.
func (g *Gateway) FetchAuditsBySecurityPair(ctx context.Context, email, whatsapp string) []domain.ContractAudit {
	ctx, span := g.span(ctx, "FetchAuditsBySecurityPair")
	defer span.End()

	if g.shouldTryRemote() {
		out, err := g.remote.AuditsBySecurityPair(ctx, email, whatsapp)
		if err == nil {
			observe("lookup", g.remote.Name(), resultOK)
			g.setMode(ModeRemote)
			span.SetAttributes(attribute.Int("audits.count", len(out)))
			return out
		}
		observe("lookup", g.remote.Name(), resultError)
		span.RecordError(err)
		g.log.Warn().Err(err).Msg("remote archive lookup failed, using local store")
		g.remoteFailed()
	}

	out, err := g.local.AuditsBySecurityPair(ctx, email, whatsapp)
	if err != nil {
		observe("lookup", g.local.Name(), resultError)
		span.RecordError(err)
		g.log.Error().Err(err).Msg("local archive lookup failed")
		g.setMode(ModeError)
		return []domain.ContractAudit{}
	}
	observe("lookup", g.local.Name(), resultOK)
	g.setMode(ModeLocal)
	span.SetAttributes(attribute.Int("audits.count", len(out)))
	return out
}
