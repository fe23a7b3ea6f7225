package db

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	ClinicIDKey contextKey = "clinic_id"
	DBConnKey   contextKey = "db_conn"
	DBTxKey     contextKey = "db_tx"
)

// ClinicHeader lets service accounts pick a clinic when the token carries none.
const ClinicHeader = "X-Clinic-ID"

var clinicIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// SchemaName returns the Postgres schema that holds a clinic's tables.
func SchemaName(clinicID string) string {
	return "clinic_" + clinicID
}

// ClinicMiddleware pins one pooled connection per request with its
// search_path set to the caller's clinic schema.
func ClinicMiddleware(pool *pgxpool.Pool, defaultClinic string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			clinicID := extractClinicID(c, defaultClinic)

			if !clinicIDPattern.MatchString(clinicID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic identifier")
			}

			ctx, release, err := WithClinicConn(c.Request().Context(), pool, clinicID)
			if errors.Is(err, errAcquire) {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "clinic resolution failed")
			}
			defer release()

			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("clinic_id", clinicID)

			return next(c)
		}
	}
}

var errAcquire = errors.New("acquire connection")

// WithClinicConn pins a pooled connection to the clinic schema and returns
// a context carrying it. Callers outside HTTP (the CLI) use it the same way
// the middleware does. release must be called when done.
func WithClinicConn(ctx context.Context, pool *pgxpool.Pool, clinicID string) (context.Context, func(), error) {
	if !clinicIDPattern.MatchString(clinicID) {
		return ctx, nil, fmt.Errorf("invalid clinic identifier: %s", clinicID)
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("%w: %v", errAcquire, err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaName(clinicID))); err != nil {
		conn.Release()
		return ctx, nil, fmt.Errorf("set search_path: %w", err)
	}
	ctx = context.WithValue(ctx, ClinicIDKey, clinicID)
	ctx = context.WithValue(ctx, DBConnKey, conn)
	return ctx, conn.Release, nil
}

func extractClinicID(c echo.Context, defaultClinic string) string {
	// set by the auth middleware from the token claim
	if cid, ok := c.Get("jwt_clinic_id").(string); ok && cid != "" {
		return cid
	}
	if cid := c.Request().Header.Get(ClinicHeader); cid != "" {
		return cid
	}
	return defaultClinic
}

// ConnFromContext retrieves the clinic-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// ClinicFromContext retrieves the clinic ID from context.
func ClinicFromContext(ctx context.Context) string {
	cid, _ := ctx.Value(ClinicIDKey).(string)
	return cid
}

// CreateClinicSchema creates the schema for a clinic and migrates it.
// Migrations are skipped when m is nil.
func CreateClinicSchema(ctx context.Context, pool *pgxpool.Pool, clinicID string, m *Migrator) error {
	if !clinicIDPattern.MatchString(clinicID) {
		return fmt.Errorf("invalid clinic identifier: %s", clinicID)
	}

	schema := SchemaName(clinicID)

	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if m != nil {
		if _, err := m.Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}
	return nil
}
