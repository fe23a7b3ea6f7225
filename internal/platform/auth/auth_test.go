package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func okHandler(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func expectHTTPError(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(okHandler)(c)
	expectHTTPError(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	for _, header := range []string{"Token abc123", "Bearer", "Bearer ", "Basic dXNlcjpwYXNz"} {
		t.Run(header, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", header)
			c := e.NewContext(req, httptest.NewRecorder())

			err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(okHandler)(c)
			expectHTTPError(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	token := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "doc-42",
			Issuer:    "https://idp.example",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		ClinicID: "north",
		Roles:    []string{RoleDoctor},
		Email:    "doc@example.com",
		Name:     "Dr. Shaw",
	}, testSigningKey)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	c := e.NewContext(req, httptest.NewRecorder())

	var got Principal
	h := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Issuer: "https://idp.example"})(func(c echo.Context) error {
		got = PrincipalFromContext(c.Request().Context())
		return nil
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.UserID != "doc-42" || got.Email != "doc@example.com" || !got.HasRole(RoleDoctor) {
		t.Errorf("unexpected principal %+v", got)
	}
	if c.Get("jwt_clinic_id") != "north" {
		t.Errorf("expected clinic claim to be exposed, got %v", c.Get("jwt_clinic_id"))
	}
}

func TestJWTMiddleware_RejectsBadTokens(t *testing.T) {
	tests := []struct {
		name   string
		claims Claims
		key    []byte
	}{
		{"expired", Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))}}, testSigningKey},
		{"wrong key", Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u"}}, []byte("another-key")},
		{"no subject", Claims{Roles: []string{RoleAdmin}}, testSigningKey},
		{"wrong issuer", Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u", Issuer: "evil"}}, testSigningKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+createTestToken(t, tt.claims, tt.key))
			c := e.NewContext(req, httptest.NewRecorder())

			cfg := JWTConfig{SigningKey: testSigningKey}
			if tt.name == "wrong issuer" {
				cfg.Issuer = "https://idp.example"
			}
			expectHTTPError(t, JWTMiddleware(cfg)(okHandler)(c), http.StatusUnauthorized)
		})
	}
}

func TestDevAuthMiddleware(t *testing.T) {
	e := echo.New()

	var got Principal
	capture := func(c echo.Context) error {
		got = PrincipalFromContext(c.Request().Context())
		return nil
	}

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	if err := DevAuthMiddleware()(capture)(c); err != nil {
		t.Fatal(err)
	}
	if got.UserID != "dev-user" || !got.IsAdmin() {
		t.Errorf("expected dev admin, got %+v", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(DevUserHeader, "doc-7")
	req.Header.Set(DevRoleHeader, RoleDoctor)
	c = e.NewContext(req, httptest.NewRecorder())
	if err := DevAuthMiddleware()(capture)(c); err != nil {
		t.Fatal(err)
	}
	if got.UserID != "doc-7" || got.IsAdmin() || !got.HasRole(RoleDoctor) {
		t.Errorf("expected doctor override, got %+v", got)
	}
}

func TestPolicy_Allowed(t *testing.T) {
	p, err := NewPolicy()
	if err != nil {
		t.Fatalf("NewPolicy() error: %v", err)
	}

	tests := []struct {
		roles []string
		obj   string
		act   string
		want  bool
	}{
		{[]string{RoleAdmin}, ResUsers, ActWrite, true},
		{[]string{RoleAdmin}, ResLogs, ActRead, true},
		{[]string{RoleDoctor}, ResPatients, ActWrite, true},
		{[]string{RoleDoctor}, ResDiagnoses, ActRead, true},
		{[]string{RoleDoctor}, ResModels, ActRead, true},
		{[]string{RoleDoctor}, ResModels, ActWrite, false},
		{[]string{RoleDoctor}, ResSettings, ActWrite, false},
		{[]string{RoleDoctor}, ResUsers, ActRead, false},
		{[]string{RoleDoctor}, ResTraining, ActRead, false},
		{nil, ResPatients, ActRead, false},
		{[]string{"nurse", RoleDoctor}, ResDocuments, ActWrite, true},
	}
	for _, tt := range tests {
		got, err := p.Allowed(tt.roles, tt.obj, tt.act)
		if err != nil {
			t.Fatalf("Allowed(%v,%s,%s) error: %v", tt.roles, tt.obj, tt.act, err)
		}
		if got != tt.want {
			t.Errorf("Allowed(%v,%s,%s) = %v, want %v", tt.roles, tt.obj, tt.act, got, tt.want)
		}
	}

	if err := p.Check(Principal{UserID: "d", Roles: []string{RoleDoctor}}, ResUsers, ActWrite); err != ErrForbidden {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestPolicy_ReadWrite(t *testing.T) {
	p, err := NewPolicy()
	if err != nil {
		t.Fatal(err)
	}
	doctor := WithPrincipal(context.Background(), Principal{UserID: "d", Roles: []string{RoleDoctor}})

	e := echo.New()
	get := httptest.NewRequest(http.MethodGet, "/models", nil).WithContext(doctor)
	if err := p.ReadWrite(ResModels)(okHandler)(e.NewContext(get, httptest.NewRecorder())); err != nil {
		t.Errorf("expected doctor GET /models to pass, got %v", err)
	}

	post := httptest.NewRequest(http.MethodPost, "/models", nil).WithContext(doctor)
	expectHTTPError(t, p.ReadWrite(ResModels)(okHandler)(e.NewContext(post, httptest.NewRecorder())), http.StatusForbidden)

	anon := httptest.NewRequest(http.MethodGet, "/models", nil)
	expectHTTPError(t, p.Authorize(ResModels, ActRead)(okHandler)(e.NewContext(anon, httptest.NewRecorder())), http.StatusUnauthorized)
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	tests := []struct {
		name  string
		roles []string
		want  int
	}{
		{"matching role", []string{RoleDoctor}, http.StatusOK},
		{"admin bypass", []string{RoleAdmin}, http.StatusOK},
		{"denied", []string{"nurse"}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := WithPrincipal(context.Background(), Principal{UserID: "u", Roles: tt.roles})
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx), rec)
			err := RequireRole(RoleDoctor)(okHandler)(c)
			if tt.want == http.StatusOK {
				if err != nil || rec.Code != http.StatusOK {
					t.Errorf("expected pass, got err=%v code=%d", err, rec.Code)
				}
				return
			}
			expectHTTPError(t, err, tt.want)
		})
	}
}
