package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardiodx/cardiodx/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type notificationRepoPG struct{ pool *pgxpool.Pool }

func NewNotificationRepoPG(pool *pgxpool.Pool) NotificationRepository {
	return &notificationRepoPG{pool: pool}
}

func (r *notificationRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const notificationCols = `id, title, message, type, audience, recipient_user_id, recipient_role,
	priority, link_url, metadata, read_at, created_at`

func (r *notificationRepoPG) scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	var meta []byte
	err := row.Scan(&n.ID, &n.Title, &n.Message, &n.Type, &n.Audience, &n.RecipientUserID,
		&n.RecipientRole, &n.Priority, &n.LinkURL, &meta, &n.ReadAt, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &n.Metadata); err != nil {
			return nil, err
		}
	}
	return &n, nil
}

func (r *notificationRepoPG) Create(ctx context.Context, n *Notification) error {
	n.ID = uuid.New()
	var meta []byte
	if len(n.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(n.Metadata); err != nil {
			return err
		}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO notifications (id, title, message, type, audience, recipient_user_id,
			recipient_role, priority, link_url, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at`,
		n.ID, n.Title, n.Message, n.Type, n.Audience, n.RecipientUserID,
		n.RecipientRole, n.Priority, n.LinkURL, meta).Scan(&n.CreatedAt)
}

func (r *notificationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return r.scanNotification(r.conn(ctx).QueryRow(ctx, `SELECT `+notificationCols+` FROM notifications WHERE id = $1`, id))
}

func (r *notificationRepoPG) list(ctx context.Context, where string, args ...interface{}) ([]*Notification, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+notificationCols+` FROM notifications WHERE `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Notification
	for rows.Next() {
		n, err := r.scanNotification(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

func (r *notificationRepoPG) ListByRecipient(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	return r.list(ctx, `audience = 'user' AND recipient_user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
}

func (r *notificationRepoPG) ListByAudience(ctx context.Context, audience string, limit int) ([]*Notification, error) {
	return r.list(ctx, `audience = $1 ORDER BY created_at DESC LIMIT $2`, audience, limit)
}

func (r *notificationRepoPG) ListByRole(ctx context.Context, role string, limit int) ([]*Notification, error) {
	return r.list(ctx, `audience IN ('role','admin') AND recipient_role = $1 ORDER BY created_at DESC LIMIT $2`, role, limit)
}

func (r *notificationRepoPG) ListAdmin(ctx context.Context, limit int) ([]*Notification, error) {
	return r.list(ctx, `audience = 'admin' ORDER BY created_at DESC LIMIT $1`, limit)
}

func (r *notificationRepoPG) MarkRead(ctx context.Context, at time.Time, ids ...uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE notifications SET read_at = $1 WHERE id = ANY($2) AND read_at IS NULL`, at, ids)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
