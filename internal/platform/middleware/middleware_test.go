package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cardiodx/cardiodx/internal/platform/auth"
)

func TestRequestID_GeneratesNew(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	err := RequestID()(func(c echo.Context) error { return c.String(http.StatusOK, "ok") })(c)
	if err != nil {
		t.Fatal(err)
	}
	rid, _ := c.Get("request_id").(string)
	if rid == "" {
		t.Fatal("expected request_id to be set")
	}
	if rec.Header().Get(RequestIDHeader) != rid {
		t.Errorf("expected response header %s, got %s", rid, rec.Header().Get(RequestIDHeader))
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	_ = RequestID()(func(c echo.Context) error { return nil })(c)
	if c.Get("request_id") != "abc-123" {
		t.Errorf("expected abc-123, got %v", c.Get("request_id"))
	}
}

func TestRecovery(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	err := Recovery(zerolog.Nop())(func(c echo.Context) error { panic("boom") })(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 HTTPError, got %v", err)
	}
}

func TestErrorHandler_Body(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(zerolog.Nop())

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantKey  string
	}{
		{"string message", echo.NewHTTPError(http.StatusBadRequest, "full_name is required"), 400, "error"},
		{"map message", echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]interface{}{
			"error": "missing required fields", "missing_fields": []string{"Age"},
		}), 422, "missing_fields"},
		{"plain error", errors.New("db exploded"), 500, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
			c.Set("request_id", "rid-1")
			e.HTTPErrorHandler(tt.err, c)

			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			var body map[string]interface{}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if _, ok := body[tt.wantKey]; !ok {
				t.Errorf("expected key %q in %v", tt.wantKey, body)
			}
			if body["request_id"] != "rid-1" {
				t.Errorf("expected request_id in body, got %v", body["request_id"])
			}
			if tt.name == "plain error" && body["error"] != "internal server error" {
				t.Errorf("internal error text leaked: %v", body["error"])
			}
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	_ = SecurityHeaders()(func(c echo.Context) error { return nil })(c)

	for h, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := rec.Header().Get(h); got != want {
			t.Errorf("%s: expected %q, got %q", h, want, got)
		}
	}
}

func TestRequestTimeout(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	err := RequestTimeout(10*time.Millisecond)(func(c echo.Context) error {
		<-c.Request().Context().Done()
		return c.Request().Context().Err()
	})(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %v", err)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	if err := RequestTimeout(time.Second)(func(c echo.Context) error { return nil })(c); err != nil {
		t.Errorf("expected fast handler to pass, got %v", err)
	}
}

func TestParseLimit(t *testing.T) {
	tests := map[string]int64{
		"":      1 << 20,
		"512K":  512 << 10,
		"1M":    1 << 20,
		"10MB":  10 << 20,
		"2G":    2 << 30,
		"1000":  1000,
		"bogus": 1 << 20,
	}
	for in, want := range tests {
		if got := parseLimit(in); got != want {
			t.Errorf("parseLimit(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestBodyLimit(t *testing.T) {
	e := echo.New()
	readAll := func(c echo.Context) error {
		_, err := io.ReadAll(c.Request().Body)
		return err
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 2048)))
	c := e.NewContext(req, httptest.NewRecorder())
	err := BodyLimit("1K", 10<<20)(readAll)(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %v", err)
	}

	// multipart bodies get the upload ceiling
	req = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(make([]byte, 4096)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEMultipartForm+"; boundary=x")
	c = e.NewContext(req, httptest.NewRecorder())
	if err := BodyLimit("1K", 8192)(readAll)(c); err != nil {
		t.Errorf("expected multipart body within upload limit, got %v", err)
	}
}

func TestMemoryLimiter(t *testing.T) {
	l := NewMemoryLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		d, _ := l.Allow(context.Background(), "k")
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	d, _ := l.Allow(context.Background(), "k")
	if d.Allowed || d.RetryAfter <= 0 {
		t.Errorf("expected third request to be throttled, got %+v", d)
	}
	if d, _ := l.Allow(context.Background(), "other"); !d.Allowed {
		t.Error("keys must be independent")
	}

	now = now.Add(time.Second)
	if d, _ := l.Allow(context.Background(), "k"); !d.Allowed {
		t.Error("expected bucket to refill after one second")
	}
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedisLimiter(client, RateLimitConfig{RequestsPerSecond: 2, BurstSize: 2})
	now := time.Date(2026, 3, 1, 12, 0, 0, 500_000_000, time.UTC)
	l.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		d, err := l.Allow(ctx, "doc")
		if err != nil || !d.Allowed {
			t.Fatalf("request %d: expected allowed, got %+v err=%v", i, d, err)
		}
	}
	d, err := l.Allow(ctx, "doc")
	if err != nil || d.Allowed {
		t.Fatalf("expected throttle, got %+v err=%v", d, err)
	}
	if d.RetryAfter != 500*time.Millisecond {
		t.Errorf("expected retry after 500ms, got %v", d.RetryAfter)
	}

	now = now.Add(time.Second)
	if d, _ := l.Allow(ctx, "doc"); !d.Allowed {
		t.Error("expected new window to allow")
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (Decision, error) {
	return Decision{}, errors.New("redis down")
}

func TestRateLimit_Middleware(t *testing.T) {
	e := echo.New()
	cfg := RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1}
	mw := RateLimit(NewMemoryLimiter(cfg), cfg, zerolog.Nop())
	h := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	rec := httptest.NewRecorder()
	if err := h(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if rec.Header().Get("X-RateLimit-Limit") != "1" {
		t.Errorf("expected limit header, got %q", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec = httptest.NewRecorder()
	err := h(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	// limiter errors fail open
	open := RateLimit(failingLimiter{}, cfg, zerolog.Nop())(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	if err := open(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())); err != nil {
		t.Errorf("expected fail-open, got %v", err)
	}
}

func TestAudit_RecordsAPIRequests(t *testing.T) {
	e := echo.New()
	var got []AuditEntry
	rec := AuditRecorderFunc(func(ctx context.Context, entry AuditEntry) error {
		got = append(got, entry)
		return nil
	})
	mw := Audit(zerolog.Nop(), rec)

	pid := "1b4e28ba-2fa1-11d2-883f-0016d3cca427"
	ctx := auth.WithPrincipal(context.Background(), auth.Principal{UserID: "doc-1", Roles: []string{auth.RoleDoctor}})
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/patients/"+pid+"/notes/x", nil).WithContext(ctx)
	c := e.NewContext(req, httptest.NewRecorder())
	_ = mw(func(c echo.Context) error { return echo.NewHTTPError(http.StatusNotFound, "note not found") })(c)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	_ = mw(func(c echo.Context) error { return nil })(e.NewContext(req, httptest.NewRecorder()))

	if len(got) != 1 {
		t.Fatalf("expected 1 audited request, got %d", len(got))
	}
	entry := got[0]
	if entry.UserID != "doc-1" || entry.Resource != "patients" || entry.PatientID != pid {
		t.Errorf("unexpected entry %+v", entry)
	}
	if entry.Action != "delete" || entry.StatusCode != http.StatusNotFound {
		t.Errorf("unexpected action/status %s/%d", entry.Action, entry.StatusCode)
	}
}

func TestAuditHelpers(t *testing.T) {
	if r := resourceFromPath("/api/v1/models/abc/toggle"); r != "models" {
		t.Errorf("expected models, got %s", r)
	}
	if r := resourceFromPath("/api/v1/"); r != "unknown" {
		t.Errorf("expected unknown, got %s", r)
	}
	if p := patientFromPath("/api/v1/patients/not-a-uuid"); p != "" {
		t.Errorf("expected no patient id, got %s", p)
	}
	if a := actionFromMethod(http.MethodPut); a != "update" {
		t.Errorf("expected update, got %s", a)
	}
}

func TestLogger_RendersErrors(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(zerolog.Nop())
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil), rec)
	c.Set("request_id", "rid-9")
	err := Logger(logger)(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "bad")
	})(c)
	if err != nil {
		t.Fatalf("expected error to be rendered, got %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(buf.String(), `"request_id":"rid-9"`) || !strings.Contains(buf.String(), `"status":400`) {
		t.Errorf("unexpected log line %s", buf.String())
	}
}
