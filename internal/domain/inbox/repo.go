package inbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("notification not found")

type NotificationRepository interface {
	Create(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	ListByRecipient(ctx context.Context, userID string, limit int) ([]*Notification, error)
	ListByAudience(ctx context.Context, audience string, limit int) ([]*Notification, error)
	// ListByRole covers audience role and audience admin, both keyed by recipient_role.
	ListByRole(ctx context.Context, role string, limit int) ([]*Notification, error)
	ListAdmin(ctx context.Context, limit int) ([]*Notification, error)
	MarkRead(ctx context.Context, at time.Time, ids ...uuid.UUID) (int, error)
}
