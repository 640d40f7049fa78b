// Package storage implements the persistence gateway: a thin decorator over
// two interchangeable record stores (remote PostgreSQL, local SQLite) that
// tries the remote store first, falls back to the local one on an actual
// failure, and reports which backend served the call.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"gorm.io/gorm"

	"github.com/tbourn/ip-intake-backend/internal/domain"
	"github.com/tbourn/ip-intake-backend/internal/repo"
)

// Identity is the visitor's details form as persisted into a Client.
type Identity struct {
	Name     string
	Email    string
	Whatsapp string
}

// Signup is a mailing-list registration.
type Signup struct {
	FullName string
	Email    string
	Niche    string
}

// Store is one backend able to hold every record kind.
type Store interface {
	Name() string
	UpsertMailing(ctx context.Context, s Signup) error
	UpsertClient(ctx context.Context, id Identity) (*domain.Client, error)
	CreateAudit(ctx context.Context, clientID, contractName, summary string) (*domain.ContractAudit, error)
	AuditsBySecurityPair(ctx context.Context, email, whatsapp string) ([]domain.ContractAudit, error)
}

// GormStore is a Store over a GORM handle. Both the remote and the local
// backend use it, so the two-factor predicate and the result shape are the
// same on either path.
type GormStore struct {
	DB   *gorm.DB
	name string
}

// NewGormStore wraps db under a backend label used in logs and metrics.
func NewGormStore(name string, db *gorm.DB) *GormStore {
	return &GormStore{DB: db, name: name}
}

func (s *GormStore) Name() string { return s.name }

func (s *GormStore) UpsertMailing(ctx context.Context, in Signup) error {
	return repo.UpsertMailingEntry(ctx, s.DB, in.FullName, in.Email, in.Niche)
}

func (s *GormStore) UpsertClient(ctx context.Context, id Identity) (*domain.Client, error) {
	return repo.UpsertClient(ctx, s.DB, id.Name, id.Email, id.Whatsapp)
}

func (s *GormStore) CreateAudit(ctx context.Context, clientID, contractName, summary string) (*domain.ContractAudit, error) {
	return repo.CreateAudit(ctx, s.DB, clientID, contractName, summary, time.Time{})
}

// AuditsBySecurityPair returns an empty slice, not an error, when no client
// matches both fields.
func (s *GormStore) AuditsBySecurityPair(ctx context.Context, email, whatsapp string) ([]domain.ContractAudit, error) {
	c, err := repo.FindClientBySecurityPair(ctx, s.DB, email, whatsapp)
	if errors.Is(err, repo.ErrNotFound) {
		return []domain.ContractAudit{}, nil
	}
	if err != nil {
		return nil, err
	}
	out, err := repo.ListAuditsByClient(ctx, s.DB, c.ID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.ContractAudit{}
	}
	return out, nil
}

// RemoteConfigured reports whether dsn looks like a usable PostgreSQL
// connection string. It only parses; it never dials.
func RemoteConfigured(dsn string) bool {
	if strings.TrimSpace(dsn) == "" {
		return false
	}
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return false
	}
	return cfg.Host != "" && cfg.Database != ""
}
