package users

import (
	"context"
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

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// -- Users --

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

const userCols = `id, email, full_name, role, status, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepoPG) Upsert(ctx context.Context, u *User) error {
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO users (id, email, full_name, role, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			full_name = EXCLUDED.full_name,
			role = EXCLUDED.role,
			status = EXCLUDED.status,
			updated_at = NOW()
		RETURNING created_at, updated_at`,
		u.ID, u.Email, u.FullName, u.Role, u.Status).Scan(&u.CreatedAt, &u.UpdatedAt)
}

func (r *userRepoPG) GetByID(ctx context.Context, id string) (*User, error) {
	return scanUser(connFor(ctx, r.pool).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+userCols+` FROM users WHERE LOWER(email) = LOWER($1)`, email))
}

func (r *userRepoPG) UpdateStatus(ctx context.Context, id, status string) (*User, error) {
	return scanUser(connFor(ctx, r.pool).QueryRow(ctx, `
		UPDATE users SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+userCols, id, status))
}

func (r *userRepoPG) list(ctx context.Context, where string, args ...interface{}) ([]*User, error) {
	rows, err := connFor(ctx, r.pool).Query(ctx,
		`SELECT `+userCols+` FROM users `+where+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *userRepoPG) List(ctx context.Context, status string) ([]*User, error) {
	if status == "" {
		return r.list(ctx, "")
	}
	return r.list(ctx, "WHERE status = $1", status)
}

func (r *userRepoPG) ListActiveByRole(ctx context.Context, role string) ([]*User, error) {
	return r.list(ctx, "WHERE status = $1 AND role = $2", StatusActive, role)
}

// -- Invitations --

type invitationRepoPG struct{ pool *pgxpool.Pool }

func NewInvitationRepoPG(pool *pgxpool.Pool) InvitationRepository {
	return &invitationRepoPG{pool: pool}
}

const invitationCols = `id, email, role, token, invited_by, status, expires_at, accepted_at, created_at`

func (r *invitationRepoPG) Create(ctx context.Context, inv *Invitation) error {
	inv.ID = uuid.New()
	return connFor(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO invitations (id, email, role, token, invited_by, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		inv.ID, inv.Email, inv.Role, inv.Token, inv.InvitedBy, inv.Status, inv.ExpiresAt).Scan(&inv.CreatedAt)
}

func (r *invitationRepoPG) GetByToken(ctx context.Context, token string) (*Invitation, error) {
	var inv Invitation
	err := connFor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+invitationCols+` FROM invitations WHERE token = $1`, token).
		Scan(&inv.ID, &inv.Email, &inv.Role, &inv.Token, &inv.InvitedBy, &inv.Status,
			&inv.ExpiresAt, &inv.AcceptedAt, &inv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvitationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *invitationRepoPG) MarkAccepted(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := connFor(ctx, r.pool).Exec(ctx, `
		UPDATE invitations SET status = $2, accepted_at = $3
		WHERE id = $1 AND status = $4`, id, InviteAccepted, at, InvitePending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvitationNotFound
	}
	return nil
}
