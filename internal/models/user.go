package models

import "time"

// Role defines the back-office role of a user.
type Role string

const (
	// RoleBroker submits transfer requests on behalf of street-side clients.
	RoleBroker Role = "broker"
	// RoleAdmin reviews and transitions requests.
	RoleAdmin Role = "admin"
	// RoleSuperadmin has all admin powers plus platform administration.
	RoleSuperadmin Role = "superadmin"
	// RoleTransferTeam is the operational review desk.
	RoleTransferTeam Role = "transfer_team"
)

// IsReviewer reports whether the role may move requests out of Pending.
func (r Role) IsReviewer() bool {
	switch r {
	case RoleAdmin, RoleSuperadmin, RoleTransferTeam:
		return true
	}
	return false
}

// User represents a platform user (broker or back-office reviewer).
// Authentication and invitation flows live in the identity service; this
// service only reads users to resolve roles and contact identity.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"unique;not null" json:"username"`
	Email     string    `gorm:"unique;not null" json:"email"`
	FirstName string    `gorm:"size:80" json:"first_name"`
	LastName  string    `gorm:"size:80" json:"last_name"`
	Role      Role      `gorm:"type:varchar(20);not null;default:'broker';index" json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Actor is the explicit capability object carried through every store and
// lifecycle call: who is acting and with what role. It is resolved once by
// the auth middleware and never re-derived mid-flow.
type Actor struct {
	ID   uint `json:"id"`
	Role Role `json:"role"`
}

// IsReviewer reports whether the actor may review requests.
func (a Actor) IsReviewer() bool {
	return a.Role.IsReviewer()
}
