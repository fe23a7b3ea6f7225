package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	casbin "github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/labstack/echo/v4"
)

var ErrForbidden = errors.New("forbidden")

// Resource names protected by the policy.
const (
	ResPatients      = "patients"
	ResDiagnoses     = "diagnoses"
	ResDocuments     = "documents"
	ResModels        = "models"
	ResSettings      = "settings"
	ResUsers         = "users"
	ResLogs          = "logs"
	ResNotifications = "notifications"
	ResTraining      = "training"
)

const (
	ActRead  = "read"
	ActWrite = "write"
)

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && (p.obj == "*" || r.obj == p.obj) && (p.act == "*" || r.act == p.act)
`

// defaultPolicy grants admins everything. Doctors run the clinical
// workflow and can see, but not change, model configuration.
var defaultPolicy = [][]string{
	{RoleAdmin, "*", "*"},
	{RoleDoctor, ResPatients, "*"},
	{RoleDoctor, ResDiagnoses, "*"},
	{RoleDoctor, ResDocuments, "*"},
	{RoleDoctor, ResNotifications, "*"},
	{RoleDoctor, ResModels, ActRead},
	{RoleDoctor, ResSettings, ActRead},
}

// Policy evaluates role permissions with casbin.
type Policy struct {
	enforcer *casbin.SyncedEnforcer
}

// NewPolicy builds the enforcer from the in-code model and default policy.
func NewPolicy() (*Policy, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("parse rbac model: %w", err)
	}
	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create enforcer: %w", err)
	}
	for _, rule := range defaultPolicy {
		if _, err := e.AddPolicy(rule[0], rule[1], rule[2]); err != nil {
			return nil, fmt.Errorf("add policy %v: %w", rule, err)
		}
	}
	return &Policy{enforcer: e}, nil
}

// Allowed reports whether any of roles may perform act on obj.
func (p *Policy) Allowed(roles []string, obj, act string) (bool, error) {
	for _, role := range roles {
		ok, err := p.enforcer.Enforce(role, obj, act)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Check returns ErrForbidden when the caller lacks the permission.
func (p *Policy) Check(principal Principal, obj, act string) error {
	ok, err := p.Allowed(principal.Roles, obj, act)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

// Authorize is route middleware enforcing obj/act for the caller.
func (p *Policy) Authorize(obj, act string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			principal := PrincipalFromContext(c.Request().Context())
			if principal.UserID == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			ok, err := p.Allowed(principal.Roles, obj, act)
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "authorization failed")
			}
			if !ok {
				return echo.NewHTTPError(http.StatusForbidden,
					fmt.Sprintf("%s access to %s denied", act, obj))
			}
			return next(c)
		}
	}
}

// ReadWrite picks read for safe methods and write for everything else.
func (p *Policy) ReadWrite(obj string) echo.MiddlewareFunc {
	read, write := p.Authorize(obj, ActRead), p.Authorize(obj, ActWrite)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		r, w := read(next), write(next)
		return func(c echo.Context) error {
			switch strings.ToUpper(c.Request().Method) {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				return r(c)
			default:
				return w(c)
			}
		}
	}
}

// RequireRole checks that the caller has at least one of roles. Admin
// always passes.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := PrincipalFromContext(c.Request().Context())
			if p.IsAdmin() {
				return next(c)
			}
			for _, required := range roles {
				if p.HasRole(required) {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
