package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/ip-intake-backend/internal/domain"
)

// UpsertMailingEntry inserts a signup or overwrites name/niche for an email
// that already signed up.
func UpsertMailingEntry(ctx context.Context, db *gorm.DB, fullName, email, niche string) error {
	e := &domain.MailingListEntry{
		Email:     email,
		FullName:  fullName,
		Niche:     niche,
		UpdatedAt: time.Now().UTC(),
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{"full_name", "niche", "updated_at"}),
	}).Create(e).Error
}
