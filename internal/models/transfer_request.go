package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RequestStatus defines lifecycle states for transfer requests.
type RequestStatus string

const (
	// RequestStatusPending indicates the request is awaiting review.
	RequestStatusPending RequestStatus = "Pending"
	// RequestStatusUnderReview indicates a reviewer has picked up the request.
	RequestStatusUnderReview RequestStatus = "Under Review"
	// RequestStatusApproved indicates the request was accepted; the approval
	// is provisional until the downstream transaction is processed.
	RequestStatusApproved RequestStatus = "Approved"
	// RequestStatusRejected indicates the request was denied.
	RequestStatusRejected RequestStatus = "Rejected"
	// RequestStatusCompleted indicates the downstream transaction executed.
	RequestStatusCompleted RequestStatus = "Completed"
)

// IsTerminal reports whether no further transitions are legal.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusRejected || s == RequestStatusCompleted
}

// RequestType classifies a transfer request.
type RequestType string

const (
	// RequestTypeDeposit is a share deposit request.
	RequestTypeDeposit RequestType = "deposit"
	// RequestTypeWithdrawal is a share withdrawal request.
	RequestTypeWithdrawal RequestType = "withdrawal"
	// RequestTypeBrokerSplit is a broker-initiated unit split request.
	RequestTypeBrokerSplit RequestType = "broker_split"
)

// TransferRequest is a broker-submitted ask for a transfer-agent action.
// Status moves only through the lifecycle rules; rows are never hard-deleted.
type TransferRequest struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	PublicID      string `gorm:"type:varchar(36);uniqueIndex;not null" json:"public_id"`
	RequestNumber string `gorm:"size:16;uniqueIndex" json:"request_number"`

	RequestType    RequestType `gorm:"type:varchar(20);not null;index" json:"request_type"`
	RequestPurpose string      `gorm:"size:160" json:"request_purpose,omitempty"`

	BrokerID         uint    `gorm:"not null;index" json:"broker_id"`
	Broker           *User   `gorm:"foreignKey:BrokerID" json:"broker,omitempty"`
	IssuerID         uint    `gorm:"not null;index" json:"issuer_id"`
	Issuer           *Issuer `gorm:"foreignKey:IssuerID" json:"issuer,omitempty"`
	AssignedToUserID *uint   `json:"assigned_to_user_id"`
	AssignedTo       *User   `gorm:"foreignKey:AssignedToUserID" json:"assigned_to,omitempty"`
	ApprovedByUserID *uint   `json:"approved_by_user_id"`
	RejectedByUserID *uint   `json:"rejected_by_user_id"`

	// Standard (deposit/withdrawal) subject fields.
	ShareholderName string          `gorm:"size:160" json:"shareholder_name,omitempty"`
	AccountNumber   string          `gorm:"size:40" json:"account_number,omitempty"`
	Cusip           string          `gorm:"size:12" json:"cusip,omitempty"`
	Quantity        decimal.Decimal `gorm:"type:decimal(20,4)" json:"quantity"`

	// Broker-split specialization: three parallel CUSIP/quantity pairs plus
	// broker DTC metadata.
	DTCParticipantNumber string          `gorm:"size:4" json:"dtc_participant_number,omitempty"`
	DWACSubmitted        bool            `json:"dwac_submitted"`
	UnitCusip            string          `gorm:"size:12" json:"unit_cusip,omitempty"`
	UnitQuantity         decimal.Decimal `gorm:"type:decimal(20,4)" json:"unit_quantity"`
	ClassACusip          string          `gorm:"size:12" json:"class_a_cusip,omitempty"`
	ClassAQuantity       decimal.Decimal `gorm:"type:decimal(20,4)" json:"class_a_quantity"`
	WarrantCusip         string          `gorm:"size:12" json:"warrant_cusip,omitempty"`
	WarrantQuantity      decimal.Decimal `gorm:"type:decimal(20,4)" json:"warrant_quantity"`

	Status          RequestStatus `gorm:"type:varchar(20);not null;default:'Pending';index" json:"status"`
	RejectionReason string        `gorm:"type:text" json:"rejection_reason,omitempty"`

	// Status timestamps are set exactly once, on first entry into the
	// corresponding status.
	ReviewStartedAt *time.Time `json:"review_started_at,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	AssignedAt      *time.Time `json:"assigned_at,omitempty"`

	// Single-use action-token round; nil until a token is issued.
	ActionToken          *string    `gorm:"size:64;index" json:"-"`
	ActionTokenExpiresAt *time.Time `json:"-"`
	ActionTokenUsedAt    *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (TransferRequest) TableName() string {
	return "transfer_requests"
}

// FormatRequestNumber derives the human-readable sequential request number
// from the numeric primary key.
func FormatRequestNumber(id uint) string {
	return fmt.Sprintf("TR-%06d", id)
}

// StatusTimestamp returns a pointer to the timestamp field backing the given
// status, or nil for statuses without one.
func (r *TransferRequest) StatusTimestamp(status RequestStatus) **time.Time {
	switch status {
	case RequestStatusUnderReview:
		return &r.ReviewStartedAt
	case RequestStatusApproved:
		return &r.ApprovedAt
	case RequestStatusRejected:
		return &r.RejectedAt
	case RequestStatusCompleted:
		return &r.CompletedAt
	}
	return nil
}
