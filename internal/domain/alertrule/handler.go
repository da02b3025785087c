package alertrule

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/carealert/internal/platform/auth"
	"github.com/ehr/carealert/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/alert-rules", auth.RequireRole(auth.RoleClinician))
	g.GET("", h.ListRules)
	g.POST("", h.CreateRule)
	g.POST("/evaluate", h.Evaluate)
	g.GET("/:id", h.GetRule)
	g.PUT("/:id", h.UpdateRule)
	g.POST("/:id/deactivate", h.DeactivateRule)
	g.POST("/:id/activate", h.ActivateRule)
}

func ruleError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidRule):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "alert rule not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) CreateRule(c echo.Context) error {
	var r Rule
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if r.OwnerID == uuid.Nil {
		if actor, err := auth.ActorID(c.Request().Context()); err == nil {
			r.OwnerID = actor
		}
	}
	if err := h.svc.CreateRule(c.Request().Context(), &r); err != nil {
		return ruleError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) GetRule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	r, err := h.svc.GetRule(c.Request().Context(), id)
	if err != nil {
		return ruleError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListRules(c echo.Context) error {
	pg := pagination.FromContext(c)
	var owner *uuid.UUID
	if raw := c.QueryParam("owner_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid owner_id")
		}
		owner = &id
	}
	items, total, err := h.svc.ListRules(c.Request().Context(), owner, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithNext(c.Request().URL))
}

func (h *Handler) UpdateRule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var r Rule
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r.ID = id
	if err := h.svc.UpdateRule(c.Request().Context(), &r); err != nil {
		return ruleError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) DeactivateRule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeactivateRule(c.Request().Context(), id); err != nil {
		return ruleError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ActivateRule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.ActivateRule(c.Request().Context(), id); err != nil {
		return ruleError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type evaluateRequest struct {
	Condition json.RawMessage        `json:"condition"`
	Metrics   map[string]interface{} `json:"metrics"`
}

type evaluateResponse struct {
	Matched bool `json:"matched"`
}

// Evaluate runs a condition against caller-supplied metrics without storing
// anything.
func (h *Handler) Evaluate(c echo.Context) error {
	var req evaluateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ok, err := h.svc.DryRun(req.Metrics, req.Condition)
	if err != nil {
		return ruleError(err)
	}
	return c.JSON(http.StatusOK, evaluateResponse{Matched: ok})
}
