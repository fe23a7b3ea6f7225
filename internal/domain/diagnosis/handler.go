package diagnosis

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cardiodx/cardiodx/internal/domain/patient"
	"github.com/cardiodx/cardiodx/internal/inference"
	"github.com/cardiodx/cardiodx/internal/platform/auth"
	"github.com/cardiodx/cardiodx/pkg/pagination"
	"github.com/cardiodx/cardiodx/pkg/riskscore"
)

type Handler struct {
	svc    *Service
	policy *auth.Policy
}

func NewHandler(svc *Service, policy *auth.Policy) *Handler {
	return &Handler{svc: svc, policy: policy}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/diagnoses", h.policy.ReadWrite(auth.ResDiagnoses))
	g.POST("/assess", h.Assess)
	g.POST("", h.Save)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Delete, auth.RequireRole(auth.RoleAdmin))
	g.POST("/:id/follow-up", h.ToggleFollowUp)

	pg := api.Group("/patients", h.policy.Authorize(auth.ResDiagnoses, auth.ActRead))
	pg.GET("/:id/diagnoses", h.ListByPatient)
	pg.GET("/:id/vitals-trend", h.VitalsTrend)

	tools := api.Group("", h.policy.Authorize(auth.ResDiagnoses, auth.ActRead))
	tools.POST("/labs/normalize", h.NormalizeLabs)
	tools.POST("/risk/explain", h.ExplainRisk)

	api.GET("/training-examples", h.TrainingExamples, h.policy.Authorize(auth.ResTraining, auth.ActRead))
}

func httpError(err error, notFound string) error {
	var mf *MissingFieldsError
	var nm *NoModelError
	switch {
	case errors.As(err, &mf):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]interface{}{
			"error":          mf.Error(),
			"missing_fields": mf.Fields,
		})
	case errors.As(err, &nm):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]interface{}{
			"error":   "no_model_active",
			"message": nm.Message,
		})
	case errors.Is(err, inference.ErrUpstream), errors.Is(err, ErrInvalidPrediction):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, ErrBadLabFile):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, patient.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, notFound)
	case errors.Is(err, auth.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	default:
		return err
	}
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func (h *Handler) Assess(c echo.Context) error {
	var d Diagnosis
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if d.PatientID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	a, err := h.svc.Assess(c.Request().Context(), &d)
	if err != nil {
		return httpError(err, "")
	}
	return c.JSON(http.StatusOK, a)
}

// SaveRequest is a reviewed diagnosis. SaveForTraining defaults to true.
type SaveRequest struct {
	Diagnosis
	SaveForTraining *bool `json:"save_for_training,omitempty"`
}

func (h *Handler) Save(c echo.Context) error {
	var req SaveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	opts := SaveOptions{SaveForTraining: req.SaveForTraining == nil || *req.SaveForTraining}
	d := req.Diagnosis
	if err := h.svc.Save(c.Request().Context(), &d, opts); err != nil {
		return httpError(err, "")
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	d, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err, "diagnosis not found")
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return httpError(err, "diagnosis not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ToggleFollowUp(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	d, err := h.svc.ToggleFollowUp(c.Request().Context(), id)
	if err != nil {
		return httpError(err, "diagnosis not found")
	}
	return c.JSON(http.StatusOK, d)
}

// historyItem decorates a diagnosis with its card label.
type historyItem struct {
	*Diagnosis
	CardType string `json:"card_type"`
}

// ListByPatient supports ?severity=all|low|moderate|high|critical and ?search=.
func (h *Handler) ListByPatient(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), id, ListFilter{
		Severity: c.QueryParam("severity"),
		Search:   c.QueryParam("search"),
		Limit:    pg.Limit,
		Offset:   pg.Offset,
	})
	if err != nil {
		return httpError(err, "")
	}
	out := make([]historyItem, 0, len(items))
	for _, d := range items {
		out = append(out, historyItem{Diagnosis: d, CardType: CardType(d)})
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, total, pg.Limit, pg.Offset))
}

func (h *Handler) VitalsTrend(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	points, err := h.svc.VitalsTrend(c.Request().Context(), id)
	if err != nil {
		return httpError(err, "")
	}
	return c.JSON(http.StatusOK, points)
}

// NormalizeLabs accepts a JSON object of lab values or a CSV upload in the
// "file" form field.
func (h *Handler) NormalizeLabs(c echo.Context) error {
	var raw map[string]any
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		fh, err := c.FormFile("file")
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "file is required")
		}
		f, err := fh.Open()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		defer f.Close()
		if raw, err = ParseLabCSV(f); err != nil {
			return httpError(err, "")
		}
	} else if err := c.Bind(&raw); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, NormalizeLabs(raw))
}

type explainRequest struct {
	Factors   riskscore.Factors `json:"factors"`
	RiskScore float64           `json:"risk_score"`
	RiskLevel string            `json:"risk_level"`
}

func (h *Handler) ExplainRisk(c echo.Context) error {
	var req explainRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, riskscore.Explain(req.Factors, req.RiskScore, req.RiskLevel))
}

func (h *Handler) TrainingExamples(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.TrainingExamples(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err, "")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
