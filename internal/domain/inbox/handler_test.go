package inbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/cardiodx/cardiodx/internal/platform/auth"
)

func newTestHandler(t *testing.T) (*Handler, *echo.Echo) {
	t.Helper()
	policy, err := auth.NewPolicy()
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	h := NewHandler(newTestService(), policy)
	e := echo.New()
	return h, e
}

func withPrincipal(req *http.Request, p auth.Principal) *http.Request {
	return req.WithContext(auth.WithPrincipal(req.Context(), p))
}

func TestHandler_Create(t *testing.T) {
	h, e := newTestHandler(t)
	body := `{"title":"Maintenance","message":"Tonight at 10pm","audience":"all"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Create(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
}

func TestHandler_Create_BadRequest(t *testing.T) {
	h, e := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"x","audience":"user"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.Create(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_FeedAndUnread(t *testing.T) {
	h, e := newTestHandler(t)
	h.svc.NotifyUser(context.Background(), "doc-1", TypeSuccess, "Diagnosis saved", "ok", "PatientRecords")

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/", nil), doctor)
	rec := httptest.NewRecorder()
	if err := h.Feed(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data  []Notification `json:"data"`
		Total int            `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 1 || body.Data[0].Title != "Diagnosis saved" {
		t.Errorf("unexpected feed %+v", body)
	}

	rec = httptest.NewRecorder()
	if err := h.UnreadCount(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"unread":1`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_MarkRead(t *testing.T) {
	h, e := newTestHandler(t)
	h.svc.NotifyUser(context.Background(), "doc-1", TypeInfo, "t", "m", "")
	feed, _ := h.svc.Feed(context.Background(), doctor)

	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/", nil), doctor)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(feed[0].ID.String())
	if err := h.MarkRead(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_MarkRead_InvalidID(t *testing.T) {
	h, e := newTestHandler(t)
	c := e.NewContext(withPrincipal(httptest.NewRequest(http.MethodPost, "/", nil), doctor), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	if err := h.MarkRead(c); err == nil {
		t.Error("expected error for invalid id")
	}
}

func TestHandler_MarkAllRead(t *testing.T) {
	h, e := newTestHandler(t)
	h.svc.Broadcast(context.Background(), TypeInfo, "", "a", "m", "")
	rec := httptest.NewRecorder()
	if err := h.MarkAllRead(e.NewContext(withPrincipal(httptest.NewRequest(http.MethodPost, "/", nil), doctor), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"marked":1`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_Routes(t *testing.T) {
	h, e := newTestHandler(t)
	h.RegisterRoutes(e.Group("/api/v1"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without principal, got %d", rec.Code)
	}
}
