// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Client
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, so the same
// code runs against the remote PostgreSQL store and the local SQLite store.
// They follow the "thin repository" approach: no fallback logic, only
// persistence and query composition.
//
// Error semantics:
//   - When a client is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors the raw gorm error is propagated.
//
// Functions:
//
//   - UpsertClient(ctx, db, fullName, email, whatsapp) -> *domain.Client, error
//     Inserts a client or, when the email already exists, overwrites
//     full_name and whatsapp while keeping the original ID.
//
//   - FindClientBySecurityPair(ctx, db, email, whatsapp) -> *domain.Client, error
//     Returns the client whose email AND whatsapp both match exactly.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/ip-intake-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the storage layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// UpsertClient writes a client keyed on email and returns the stored row.
//
// A fresh UUID is generated for the insert attempt; on conflict the existing
// row keeps its ID, so the row is re-read by email to return the real one.
func UpsertClient(ctx context.Context, db *gorm.DB, fullName, email, whatsapp string) (*domain.Client, error) {
	var out domain.Client
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c := &domain.Client{
			ID:        uuid.NewString(),
			FullName:  fullName,
			Email:     email,
			Whatsapp:  whatsapp,
			CreatedAt: time.Now().UTC(),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email"}},
			DoUpdates: clause.AssignmentColumns([]string{"full_name", "whatsapp"}),
		}).Create(c).Error; err != nil {
			return err
		}
		return tx.Where("email = ?", email).First(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// FindClientBySecurityPair applies the two-factor predicate. It returns
// ErrNotFound when no client matches both fields; callers must not report
// which of the two failed.
func FindClientBySecurityPair(ctx context.Context, db *gorm.DB, email, whatsapp string) (*domain.Client, error) {
	var c domain.Client
	err := db.WithContext(ctx).
		Where("email = ? AND whatsapp = ?", email, whatsapp).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
