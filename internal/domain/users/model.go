package users

import (
	"time"

	"github.com/google/uuid"
)

// Account statuses.
const (
	StatusPendingApproval = "pending_approval"
	StatusActive          = "active"
	StatusDisabled        = "disabled"
	StatusRejected        = "rejected"
)

var validStatuses = map[string]bool{
	StatusPendingApproval: true,
	StatusActive:          true,
	StatusDisabled:        true,
	StatusRejected:        true,
}

// Invitation statuses.
const (
	InvitePending  = "pending"
	InviteAccepted = "accepted"
	InviteRevoked  = "revoked"
)

// InvitationTTL is how long an invitation link stays valid.
const InvitationTTL = 7 * 24 * time.Hour

// User is an account keyed by the identity provider's subject.
type User struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	FullName  string    `db:"full_name" json:"full_name"`
	Role      string    `db:"role" json:"role"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (u *User) Active() bool { return u.Status == StatusActive }

type Invitation struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	Email      string     `db:"email" json:"email"`
	Role       string     `db:"role" json:"role"`
	Token      string     `db:"token" json:"token,omitempty"`
	InvitedBy  string     `db:"invited_by" json:"invited_by"`
	Status     string     `db:"status" json:"status"`
	ExpiresAt  time.Time  `db:"expires_at" json:"expires_at"`
	AcceptedAt *time.Time `db:"accepted_at" json:"accepted_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

func (i *Invitation) Expired(now time.Time) bool { return !now.Before(i.ExpiresAt) }

// InviteRequest is the admin's input for a new invitation.
type InviteRequest struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"omitempty,oneof=admin doctor"`
}
