package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/cardiodx/cardiodx/internal/platform/auth"
	"github.com/cardiodx/cardiodx/internal/platform/db"
)

const apiPrefix = "/api/v1/"

// AuditEntry records who touched which resource.
type AuditEntry struct {
	UserID     string
	Roles      []string
	Resource   string
	PatientID  string
	Action     string
	Method     string
	Path       string
	IPAddress  string
	StatusCode int
	RequestID  string
	Timestamp  time.Time
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	RecordAccess(ctx context.Context, entry AuditEntry) error
}

type AuditRecorderFunc func(ctx context.Context, entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(ctx context.Context, entry AuditEntry) error {
	return f(ctx, entry)
}

// Audit logs every /api/v1 request as an "activity" event and hands it to
// the recorder, if any. Recorder failures are logged and never fail the
// request.
func Audit(logger zerolog.Logger, recorder AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, apiPrefix) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				status = he.Code
			}

			p := auth.PrincipalFromContext(req.Context())
			entry := AuditEntry{
				UserID:     p.UserID,
				Roles:      p.Roles,
				Resource:   resourceFromPath(req.URL.Path),
				PatientID:  patientFromPath(req.URL.Path),
				Action:     actionFromMethod(req.Method),
				Method:     req.Method,
				Path:       req.URL.Path,
				IPAddress:  c.RealIP(),
				StatusCode: status,
				RequestID:  requestID(c),
				Timestamp:  time.Now().UTC(),
			}

			if recorder != nil {
				if recErr := recorder.RecordAccess(req.Context(), entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "activity").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("roles", entry.Roles).
				Str("resource", entry.Resource).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Int("status", entry.StatusCode).
				Msg("access")

			return err
		}
	}
}

func actionFromMethod(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

func resourceFromPath(path string) string {
	first, _, _ := strings.Cut(strings.TrimPrefix(path, apiPrefix), "/")
	if first == "" {
		return "unknown"
	}
	return first
}

func patientFromPath(path string) string {
	rest, ok := strings.CutPrefix(path, apiPrefix+"patients/")
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(rest, "/")
	if _, err := uuid.Parse(id); err != nil {
		return ""
	}
	return id
}

// PGAuditRecorder writes entries to the clinic's audit_log table using the
// connection pinned by the clinic middleware.
type PGAuditRecorder struct{}

func (PGAuditRecorder) RecordAccess(ctx context.Context, e AuditEntry) error {
	conn := db.ConnFromContext(ctx)
	if conn == nil {
		return nil
	}
	_, err := conn.Exec(ctx, `INSERT INTO audit_log (user_id, method, path, status, resource, patient_id, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.UserID, e.Method, e.Path, e.StatusCode, e.Resource, e.PatientID, e.RequestID, e.Timestamp)
	return err
}
