package document

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cardiodx/cardiodx/internal/domain/diagnosis"
	"github.com/cardiodx/cardiodx/internal/domain/patient"
	"github.com/cardiodx/cardiodx/internal/inference"
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
	g := api.Group("/documents", h.policy.ReadWrite(auth.ResDocuments))
	g.POST("/analyze", h.Analyze)
	g.POST("/save", h.Save)
}

func httpError(err error) error {
	var mf *diagnosis.MissingFieldsError
	switch {
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, ErrUnsupportedFileType):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	case errors.As(err, &mf):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]interface{}{
			"error":          mf.Error(),
			"missing_fields": mf.Fields,
		})
	case errors.Is(err, ErrValidation), errors.Is(err, diagnosis.ErrValidation), errors.Is(err, blobstore.ErrMissingFileName):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrOCRDisabled):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNothingExtracted):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrOCRUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, inference.ErrUpstream), errors.Is(err, ErrInvalidAnalysis):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, patient.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	default:
		return err
	}
}

// Analyze takes a multipart form with patient_id, document_type and the
// document in "file".
func (h *Handler) Analyze(c echo.Context) error {
	pid, err := uuid.Parse(c.FormValue("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	if fh.Size > MaxFileSize {
		return httpError(blobstore.ErrFileTooLarge)
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, MaxFileSize+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ct := fh.Header.Get(echo.HeaderContentType)
	if ct == "" || ct == echo.MIMEOctetStream {
		ct = http.DetectContentType(data)
	}
	res, err := h.svc.Analyze(c.Request().Context(), Upload{
		PatientID:    pid,
		DocumentType: c.FormValue("document_type"),
		File:         inference.File{Name: fh.Filename, ContentType: ct, Data: data},
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Save(c echo.Context) error {
	var r Result
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d, err := h.svc.SaveToRecord(c.Request().Context(), &r)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, d)
}
