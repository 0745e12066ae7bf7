package diagnosis

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ddx/ddx/internal/domain/knowledge"
)

// Handler exposes ranking over HTTP.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the diagnosis endpoints on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	dx := api.Group("/diagnosis")
	dx.POST("/rank", h.Rank)
	dx.POST("/query", h.Query)
}

// Rank handles POST /diagnosis/rank.
func (h *Handler) Rank(c echo.Context) error {
	var req RankRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	diff, err := h.svc.Rank(c.Request().Context(), &req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, diff)
}

// Query handles POST /diagnosis/query.
func (h *Handler) Query(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	resp, err := h.svc.Query(c.Request().Context(), &req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

// httpError maps service errors onto HTTP status codes. A missing knowledge
// base is a service-availability condition, not a caller mistake.
func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, knowledge.ErrNotLoaded):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ErrNoText):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}
