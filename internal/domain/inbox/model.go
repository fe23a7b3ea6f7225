package inbox

import (
	"time"

	"github.com/google/uuid"
)

// Notification types.
const (
	TypeInfo    = "info"
	TypeSuccess = "success"
	TypeWarning = "warning"
	TypeAlert   = "alert"
)

// Audiences.
const (
	AudienceUser  = "user"
	AudienceAdmin = "admin"
	AudienceAll   = "all"
	AudienceRole  = "role"
)

const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Notification is an in-app message shown in the bell feed.
type Notification struct {
	ID              uuid.UUID         `db:"id" json:"id"`
	Title           string            `db:"title" json:"title"`
	Message         string            `db:"message" json:"message"`
	Type            string            `db:"type" json:"type"`
	Audience        string            `db:"audience" json:"audience"`
	RecipientUserID *string           `db:"recipient_user_id" json:"recipient_user_id,omitempty"`
	RecipientRole   *string           `db:"recipient_role" json:"recipient_role,omitempty"`
	Priority        string            `db:"priority" json:"priority"`
	LinkURL         *string           `db:"link_url" json:"link_url,omitempty"`
	Metadata        map[string]string `db:"metadata" json:"metadata,omitempty"`
	ReadAt          *time.Time        `db:"read_at" json:"read_at,omitempty"`
	CreatedAt       time.Time         `db:"created_at" json:"created_at"`
}

func (n *Notification) Unread() bool { return n.ReadAt == nil }

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
