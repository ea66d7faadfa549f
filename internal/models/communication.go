package models

import "time"

// Communication is an append-only human-readable log entry attached to a
// transfer request. Entries are never edited or deleted. UserID may be nil
// for mutations triggered through an emailed action link, where the actor is
// not session-authenticated.
type Communication struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	RequestID  uint      `gorm:"not null;index" json:"request_id"`
	UserID     *uint     `json:"user_id"`
	User       *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Message    string    `gorm:"type:text;not null" json:"message"`
	IsInternal bool      `gorm:"not null;default:false" json:"is_internal"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName specifies the table name for GORM.
func (Communication) TableName() string {
	return "communications"
}
