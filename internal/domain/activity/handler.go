package activity

import (
	"net/http"
	"strconv"

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
	api.GET("/dashboard/doctor", h.DoctorStats, h.policy.Authorize(auth.ResDiagnoses, auth.ActRead))
	api.GET("/dashboard/activity", h.RecentActivity, h.policy.Authorize(auth.ResLogs, auth.ActRead))
	api.GET("/system-logs", h.SystemLog, h.policy.Authorize(auth.ResLogs, auth.ActRead))
}

// DoctorStats reports on the caller. Admins may pass ?doctor_id=.
func (h *Handler) DoctorStats(c echo.Context) error {
	p := auth.PrincipalFromContext(c.Request().Context())
	doctorID := p.UserID
	if id := c.QueryParam("doctor_id"); id != "" && id != doctorID {
		if !p.IsAdmin() {
			return echo.NewHTTPError(http.StatusForbidden, "only admins can view other doctors")
		}
		doctorID = id
	}
	stats, err := h.svc.DoctorStats(c.Request().Context(), doctorID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) RecentActivity(c echo.Context) error {
	entries, err := h.svc.RecentActivity(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *Handler) SystemLog(c echo.Context) error {
	limit := SystemLogLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	entries, err := h.svc.SystemLog(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entries)
}
