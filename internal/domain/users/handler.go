package users

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cardiodx/cardiodx/internal/platform/auth"
)

type Handler struct {
	svc    *Service
	policy *auth.Policy
}

func NewHandler(svc *Service, policy *auth.Policy) *Handler {
	return &Handler{svc: svc, policy: policy}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/me", h.Me)
	api.POST("/invitations/accept", h.AcceptInvitation)

	admin := api.Group("", h.policy.ReadWrite(auth.ResUsers))
	admin.GET("/users", h.List)
	admin.POST("/users/:id/approve", h.Approve)
	admin.POST("/users/:id/reject", h.Reject)
	admin.POST("/users/:id/disable", h.Disable)
	admin.POST("/invitations", h.Invite)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvitationNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrSelfChange), errors.Is(err, ErrAlreadyMember),
		errors.Is(err, ErrInvitationAccepted):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvitationExpired), errors.Is(err, ErrInvitationRevoked):
		return echo.NewHTTPError(http.StatusGone, err.Error())
	case errors.Is(err, ErrEmailMismatch):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	default:
		return err
	}
}

type meResponse struct {
	*User
	Roles []string `json:"roles"`
}

// Me registers the caller on first use and returns their account.
func (h *Handler) Me(c echo.Context) error {
	p := auth.PrincipalFromContext(c.Request().Context())
	if p.UserID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	u, err := h.svc.EnsureUser(c.Request().Context(), p)
	if err != nil {
		return httpError(err)
	}
	roles := p.Roles
	if roles == nil {
		roles = []string{}
	}
	return c.JSON(http.StatusOK, meResponse{User: u, Roles: roles})
}

func (h *Handler) List(c echo.Context) error {
	items, err := h.svc.List(c.Request().Context(), c.QueryParam("status"))
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*User{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Approve(c echo.Context) error {
	u, err := h.svc.Approve(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) Reject(c echo.Context) error {
	u, err := h.svc.Reject(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) Disable(c echo.Context) error {
	u, err := h.svc.Disable(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) Invite(c echo.Context) error {
	var req InviteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inv, err := h.svc.Invite(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, inv)
}

type acceptRequest struct {
	Token string `json:"token"`
}

func (h *Handler) AcceptInvitation(c echo.Context) error {
	var req acceptRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u, err := h.svc.AcceptInvitation(c.Request().Context(), req.Token)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}
