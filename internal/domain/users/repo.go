package users

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrInvitationNotFound = errors.New("invitation not found")
)

type UserRepository interface {
	// Upsert inserts u or refreshes email, name, role and status of an
	// existing row with the same id.
	Upsert(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	UpdateStatus(ctx context.Context, id, status string) (*User, error)
	// List returns users newest first; an empty status returns everyone.
	List(ctx context.Context, status string) ([]*User, error)
	ListActiveByRole(ctx context.Context, role string) ([]*User, error)
}

type InvitationRepository interface {
	Create(ctx context.Context, inv *Invitation) error
	GetByToken(ctx context.Context, token string) (*Invitation, error)
	MarkAccepted(ctx context.Context, id uuid.UUID, at time.Time) error
}
