package knowledge

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ddx/ddx/internal/platform/auth"
	"github.com/ddx/ddx/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	kb := api.Group("/kb")
	kb.GET("/diseases", h.ListDiseases)
	kb.GET("/diseases/:code", h.GetDisease)
	kb.GET("/findings", h.SearchFindings)
	kb.GET("/findings/:code/diseases", h.DiseasesForFinding)
	kb.GET("/stats", h.Stats)
	kb.POST("/reload", h.Reload, auth.RequireRole("admin"))
}

func (h *Handler) ListDiseases(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDiseases(c.Request().Context(), c.QueryParam("q"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	resp := pagination.NewResponse(items, total, pg.Limit, pg.Offset)
	resp.Links = pg.Links(c.Path(), total)
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetDisease(c echo.Context) error {
	detail, err := h.svc.GetDisease(c.Request().Context(), c.Param("code"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, detail)
}

func (h *Handler) SearchFindings(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.SearchFindings(c.Request().Context(), c.QueryParam("q"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	resp := pagination.NewResponse(items, total, pg.Limit, pg.Offset)
	resp.Links = pg.Links(c.Path(), total)
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) DiseasesForFinding(c echo.Context) error {
	out, err := h.svc.DiseasesForFinding(c.Request().Context(), c.Param("code"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Stats(c echo.Context) error {
	stats, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) Reload(c echo.Context) error {
	stats, err := h.svc.Reload(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

// httpError maps service errors onto HTTP status codes. A missing knowledge
// base is 503 so that callers can tell "cannot rank yet" apart from 404s on
// individual concepts.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotLoaded):
		return echo.NewHTTPError(http.StatusServiceUnavailable, ErrNotLoaded.Error())
	case errors.Is(err, ErrUnknownDisease), errors.Is(err, ErrUnknownFinding):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}
