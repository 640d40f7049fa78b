package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/ip-intake-backend/internal/domain"
)

// CreateAudit appends one contract audit. Audits are never updated.
// A zero createdAt is replaced with the current UTC time.
func CreateAudit(ctx context.Context, db *gorm.DB, clientID, contractName, summary string, createdAt time.Time) (*domain.ContractAudit, error) {
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	a := &domain.ContractAudit{
		ID:              uuid.NewString(),
		ClientID:        clientID,
		ContractName:    contractName,
		AnalysisSummary: summary,
		RiskScore:       domain.PlaceholderRiskScore,
		CreatedAt:       createdAt,
	}
	if err := db.WithContext(ctx).Create(a).Error; err != nil {
		return nil, err
	}
	return a, nil
}

// ListAuditsByClient returns every audit of a client, newest first.
func ListAuditsByClient(ctx context.Context, db *gorm.DB, clientID string) ([]domain.ContractAudit, error) {
	var out []domain.ContractAudit
	err := db.WithContext(ctx).
		Where("client_id = ?", clientID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&out).Error
	return out, err
}
