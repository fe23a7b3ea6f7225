package patient

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cardiodx/cardiodx/internal/platform/auth"
	"github.com/cardiodx/cardiodx/internal/platform/blobstore"
	"github.com/cardiodx/cardiodx/pkg/pagination"
)

type Handler struct {
	svc    *Service
	policy *auth.Policy
}

func NewHandler(svc *Service, policy *auth.Policy) *Handler {
	return &Handler{svc: svc, policy: policy}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/patients", h.policy.ReadWrite(auth.ResPatients))
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.GET("/:id/history-flags", h.HistoryFlags)

	g.GET("/:id/notes", h.ListNotes)
	g.POST("/:id/notes", h.AddNote)
	g.DELETE("/:id/notes/:noteID", h.DeleteNote)

	g.GET("/:id/files", h.ListFiles)
	g.POST("/:id/files", h.UploadFile)
	g.GET("/:id/files/:fileID/download", h.DownloadFile)
	g.DELETE("/:id/files/:fileID", h.DeleteFile)
}

// httpError maps service errors onto HTTP statuses.
func httpError(err error, notFound string) error {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{
			"error":          ve.Error(),
			"missing_fields": ve.Fields,
		})
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, notFound)
	case errors.Is(err, auth.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, blobstore.ErrMissingFileName):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
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

func (h *Handler) Create(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), &p); err != nil {
		return httpError(err, "patient not found")
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err, "patient not found")
	}
	return c.JSON(http.StatusOK, p)
}

// List supports ?search= and ?mine=true (patients assigned to the caller).
func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()
	params := ListParams{Search: c.QueryParam("search"), Limit: pg.Limit, Offset: pg.Offset}
	if c.QueryParam("mine") == "true" {
		params.DoctorID = auth.UserIDFromContext(ctx)
	}
	items, total, err := h.svc.List(ctx, params)
	if err != nil {
		return httpError(err, "")
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var u Update
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.Update(c.Request().Context(), id, u)
	if err != nil {
		return httpError(err, "patient not found")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return httpError(err, "patient not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) HistoryFlags(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	flags, err := h.svc.HistoryFlags(c.Request().Context(), id)
	if err != nil {
		return httpError(err, "patient not found")
	}
	return c.JSON(http.StatusOK, flags)
}

// -- Notes --

func (h *Handler) AddNote(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var n Note
	if err := c.Bind(&n); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.AddNote(c.Request().Context(), id, &n); err != nil {
		return httpError(err, "patient not found")
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) ListNotes(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	notes, err := h.svc.ListNotes(ctx, auth.PrincipalFromContext(ctx), id)
	if err != nil {
		return httpError(err, "patient not found")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": notes, "total": len(notes)})
}

func (h *Handler) DeleteNote(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	noteID, err := parseID(c, "noteID")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.svc.DeleteNote(ctx, auth.PrincipalFromContext(ctx), id, noteID); err != nil {
		return httpError(err, "note not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Files --

func (h *Handler) UploadFile(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	src, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer src.Close()

	up := Upload{
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		FileType:    c.FormValue("file_type"),
		Content:     src,
	}
	if d := c.FormValue("description"); d != "" {
		up.Description = &d
	}
	if up.ContentType == "" {
		up.ContentType = "application/octet-stream"
	}
	f, err := h.svc.UploadFile(c.Request().Context(), id, up)
	if err != nil {
		return httpError(err, "patient not found")
	}
	return c.JSON(http.StatusCreated, f)
}

func (h *Handler) ListFiles(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	files, err := h.svc.ListFiles(c.Request().Context(), id)
	if err != nil {
		return httpError(err, "patient not found")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": files, "total": len(files)})
}

func (h *Handler) DownloadFile(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	fileID, err := parseID(c, "fileID")
	if err != nil {
		return err
	}
	dl, err := h.svc.OpenFile(c.Request().Context(), id, fileID)
	if err != nil {
		return httpError(err, "file not found")
	}
	if dl.URL != "" {
		return c.Redirect(http.StatusFound, dl.URL)
	}
	defer dl.Body.Close()
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", dl.File.FileName))
	return c.Stream(http.StatusOK, dl.File.ContentType, dl.Body)
}

func (h *Handler) DeleteFile(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	fileID, err := parseID(c, "fileID")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteFile(c.Request().Context(), id, fileID); err != nil {
		return httpError(err, "file not found")
	}
	return c.NoContent(http.StatusNoContent)
}
