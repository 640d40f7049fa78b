// Package domain defines the persistence models for intake clients, contract
// audits, and mailing-list signups. The same GORM mappings back both the
// remote PostgreSQL store and the on-device SQLite fallback, so a record has
// one shape regardless of where it was written.
package domain

import "time"

// PlaceholderRiskScore is stored on every audit until risk scoring exists.
const PlaceholderRiskScore = 75

// Client is a person who submitted identity details before an analysis or a
// consultation. Email is the identity key: a resubmission with the same
// email overwrites FullName and Whatsapp instead of inserting a new row.
//
// Fields:
//   - ID: UUID primary key, assigned on first insert and never changed.
//   - FullName / Email / Whatsapp: copied from the visitor's details form.
//   - Email + Whatsapp together form the two-factor archive lookup key.
//   - CreatedAt: first time the client was seen.
type Client struct {
	ID        string    `json:"id"         gorm:"type:varchar(36);primaryKey"`
	FullName  string    `json:"full_name"  gorm:"type:varchar(255);not null"`
	Email     string    `json:"email"      gorm:"type:varchar(255);not null;uniqueIndex:ux_clients_email;index:idx_clients_pair,priority:1"`
	Whatsapp  string    `json:"whatsapp"   gorm:"type:varchar(32);not null;index:idx_clients_pair,priority:2"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Client.
func (Client) TableName() string { return "clients" }

// ContractAudit is the append-only record of one completed AI analysis.
//
// ClientID references Client.ID but carries no foreign-key constraint: a
// fallback write may reference a client that only exists in the other store.
type ContractAudit struct {
	ID              string    `json:"id"               gorm:"type:varchar(36);primaryKey"`
	ClientID        string    `json:"client_id"        gorm:"type:varchar(36);not null;index:idx_audits_client_created,priority:1"`
	ContractName    string    `json:"contract_name"    gorm:"type:varchar(512);not null"`
	AnalysisSummary string    `json:"analysis_summary" gorm:"type:text;not null"`
	RiskScore       int       `json:"risk_score"       gorm:"not null;default:75"`
	CreatedAt       time.Time `json:"created_at"       gorm:"index:idx_audits_client_created,priority:2"`
}

// TableName returns the database table name for ContractAudit.
func (ContractAudit) TableName() string { return "contract_audits" }

// MailingListEntry is a newsletter signup. Email is the upsert key; there is
// no relationship to Client.
type MailingListEntry struct {
	Email     string    `json:"email"      gorm:"type:varchar(255);primaryKey"`
	FullName  string    `json:"full_name"  gorm:"type:varchar(255);not null"`
	Niche     string    `json:"niche"      gorm:"type:varchar(128);not null;default:''"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for MailingListEntry.
func (MailingListEntry) TableName() string { return "creative_database" }
