package conceptset

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/omop/atlas/internal/platform/apperr"
	"github.com/omop/atlas/internal/platform/auth"
	"github.com/omop/atlas/pkg/pagination"
)

// Handler provides REST endpoints for concept sets.
type Handler struct {
	svc *Service
}

// NewHandler creates a new concept set handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers concept set routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/conceptset")
	g.POST("", h.Create)
	g.POST("/", h.Create)
	g.GET("", h.List)
	g.GET("/", h.List)
	g.GET("/:id", h.Get)
	g.GET("/:id/expression", h.Expression)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
}

type createRequest struct {
	Name  string      `json:"name"`
	Items []ItemInput `json:"items"`
}

// updateRequest keeps a missing "items" key (nil) apart from an empty list.
type updateRequest struct {
	Name  *string      `json:"name"`
	Items *[]ItemInput `json:"items"`
}

// Create handles POST /api/v1/conceptset/.
func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	creatorID := auth.UserIDFromContext(c.Request().Context())
	if creatorID == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	cs, err := h.svc.Create(c.Request().Context(), req.Name, req.Items, creatorID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, cs)
}

// List handles GET /api/v1/conceptset/?limit=&offset=.
func (h *Handler) List(c echo.Context) error {
	p := pagination.FromContext(c)
	sets, total, err := h.svc.List(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(sets, total, p).WithLinks(c.Request().URL))
}

// Get handles GET /api/v1/conceptset/:id.
func (h *Handler) Get(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	cs, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, cs)
}

// Expression handles GET /api/v1/conceptset/:id/expression.
func (h *Handler) Expression(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	exp, err := h.svc.Expression(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, exp)
}

// Update handles PUT /api/v1/conceptset/:id.
func (h *Handler) Update(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	cs, err := h.svc.Update(c.Request().Context(), id, req.Name, req.Items)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, cs)
}

// Delete handles DELETE /api/v1/conceptset/:id.
func (h *Handler) Delete(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func idParam(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid concept set id")
	}
	return id, nil
}
