package models

import "time"

// IssuerStatus defines the lifecycle state of an issuer.
type IssuerStatus string

const (
	// IssuerStatusLive indicates the issuer is fully onboarded.
	IssuerStatusLive IssuerStatus = "live"
	// IssuerStatusPending indicates onboarding is not finished; data setup is
	// allowed but transaction-affecting writes are not.
	IssuerStatusPending IssuerStatus = "pending"
	// IssuerStatusSuspended blocks all writes for the issuer.
	IssuerStatusSuspended IssuerStatus = "suspended"
)

// Issuer is the security issuer a transfer request acts against. Issuer CRUD
// is owned elsewhere; this service consumes the issuer row as a write gate.
type Issuer struct {
	ID        uint         `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"size:160;not null" json:"name"`
	Status    IssuerStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (Issuer) TableName() string {
	return "issuers"
}

// AllowsWrite applies the issuer gate: suspended issuers reject every write,
// pending issuers reject transaction-affecting writes only.
func (i *Issuer) AllowsWrite(transactional bool) *AppError {
	switch i.Status {
	case IssuerStatusSuspended:
		return NewIssuerBlockedError(IssuerStatusSuspended)
	case IssuerStatusPending:
		if transactional {
			return NewIssuerBlockedError(IssuerStatusPending)
		}
	}
	return nil
}
