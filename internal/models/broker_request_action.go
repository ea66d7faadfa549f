package models

import (
	"time"

	"github.com/google/uuid"
)

// BrokerActionType is the action recorded against an issued token round.
type BrokerActionType string

const (
	// BrokerActionPending means the token is issued but not yet applied.
	BrokerActionPending BrokerActionType = "pending"
	// BrokerActionApprove records an approval taken through the token link.
	BrokerActionApprove BrokerActionType = "approve"
	// BrokerActionReject records a rejection taken through the token link.
	BrokerActionReject BrokerActionType = "reject"
)

// BrokerRequestAction is the audit companion to an action token: which action
// the token round ended in, who applied it, and when. It is not the source of
// truth for token validity; the token fields on the request row are.
// The only mutation after insert is the single action-application update.
type BrokerRequestAction struct {
	ID           uint             `gorm:"primaryKey" json:"id"`
	PublicID     string           `gorm:"type:varchar(36);uniqueIndex;not null" json:"public_id"`
	RequestID    uint             `gorm:"not null;index" json:"request_id"`
	Action       BrokerActionType `gorm:"type:varchar(10);not null;default:'pending'" json:"action"`
	UsedByUserID *uint            `json:"used_by_user_id"`
	UsedBy       *User            `gorm:"foreignKey:UsedByUserID" json:"used_by,omitempty"`
	UsedAt       *time.Time       `json:"used_at,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (BrokerRequestAction) TableName() string {
	return "broker_request_actions"
}

// NewBrokerRequestAction creates the pending audit row for a freshly issued
// token round.
func NewBrokerRequestAction(requestID uint) BrokerRequestAction {
	return BrokerRequestAction{
		PublicID:  uuid.NewString(),
		RequestID: requestID,
		Action:    BrokerActionPending,
	}
}
