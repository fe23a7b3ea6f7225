package mlmodel

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cardiodx/cardiodx/internal/platform/auth"
	"github.com/cardiodx/cardiodx/internal/platform/blobstore"
)

type Handler struct {
	svc    *Service
	policy *auth.Policy
}

func NewHandler(svc *Service, policy *auth.Policy) *Handler {
	return &Handler{svc: svc, policy: policy}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	m := api.Group("/models", h.policy.ReadWrite(auth.ResModels))
	m.GET("", h.List)
	m.POST("", h.CreateAPIModel)
	m.POST("/local", h.CreateLocalModel)
	m.GET("/active", h.ActiveModel)
	m.GET("/:id", h.Get)
	m.PUT("/:id", h.Update)
	m.DELETE("/:id", h.Delete)
	m.POST("/:id/toggle", h.Toggle)

	s := api.Group("/settings", h.policy.ReadWrite(auth.ResSettings))
	s.GET("", h.GetSetting)
	s.POST("/mode", h.SwitchMode)
	s.POST("/ocr/toggle", h.ToggleOCR)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidMockOutput), errors.Is(err, ErrArtifactRequired),
		errors.Is(err, blobstore.ErrMissingFileName):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "model not found")
	case errors.Is(err, ErrModeUnavailable), errors.Is(err, ErrModeMismatch), errors.Is(err, ErrOCRLocalOnly):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	default:
		return err
	}
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) List(c echo.Context) error {
	items, err := h.svc.List(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*MLModel{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CreateAPIModel(c echo.Context) error {
	var in Input
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m, err := h.svc.CreateAPIModel(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func formString(c echo.Context, name string) *string {
	v := c.FormValue(name)
	if v == "" {
		return nil
	}
	return &v
}

// CreateLocalModel takes a multipart form: the artifact in "file" plus the
// model fields.
func (h *Handler) CreateLocalModel(c echo.Context) error {
	in := Input{
		ModelName:   formString(c, "model_name"),
		Version:     formString(c, "version"),
		ModelType:   formString(c, "model_type"),
		Description: formString(c, "description"),
	}
	if v := strings.TrimSpace(c.FormValue("accuracy")); v != "" {
		acc, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "accuracy must be a number")
		}
		in.Accuracy = &acc
	}
	if v := c.FormValue("mock_prediction_output"); v != "" {
		if !json.Valid([]byte(v)) {
			return httpError(ErrInvalidMockOutput)
		}
		in.MockPredictionOutput = json.RawMessage(v)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return httpError(ErrArtifactRequired)
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer f.Close()

	m, err := h.svc.CreateLocalModel(c.Request().Context(), in, &Artifact{
		FileName:    fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Content:     f,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	m, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in Input
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m, err := h.svc.Update(c.Request().Context(), id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Toggle(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	m, err := h.svc.ToggleModel(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

// ActiveModel reports the display name for ?type=, defaulting to
// heart_disease.
func (h *Handler) ActiveModel(c echo.Context) error {
	typ := c.QueryParam("type")
	if typ == "" {
		typ = TypeHeartDisease
	}
	name, err := h.svc.ActiveModelName(c.Request().Context(), typ)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"model_type": typ, "name": name})
}

func (h *Handler) GetSetting(c echo.Context) error {
	st, err := h.svc.GetSetting(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

type modeRequest struct {
	ActiveModelType string `json:"active_model_type"`
}

func (h *Handler) SwitchMode(c echo.Context) error {
	var req modeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	st, err := h.svc.SwitchMode(c.Request().Context(), req.ActiveModelType)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) ToggleOCR(c echo.Context) error {
	st, err := h.svc.ToggleOCR(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}
