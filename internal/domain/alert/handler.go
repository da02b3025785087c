package alert

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/carealert/internal/platform/auth"
	"github.com/ehr/carealert/pkg/pagination"
)

type Handler struct {
	mgr   *Manager
	dedup *Deduplicator
}

func NewHandler(mgr *Manager, dedup *Deduplicator) *Handler {
	return &Handler{mgr: mgr, dedup: dedup}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	clinician := auth.RequireRole(auth.RoleClinician)

	alerts := api.Group("/alerts", clinician)
	alerts.GET("", h.ListAlerts)
	alerts.GET("/:id", h.GetAlert)
	alerts.POST("/:id/acknowledge", h.Acknowledge)

	api.GET("/records/:id/alerts", h.ListRecordAlerts, clinician)
	api.GET("/alert-rules/:id/duplicate-check", h.DuplicateCheck,
		auth.RequireRole(auth.RoleClinician, auth.RoleService))
}

func (h *Handler) GetAlert(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	inst, err := h.mgr.Get(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "alert not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, inst)
}

// ListAlerts lists a patient's alerts when patient_id is given, otherwise
// every unacknowledged alert.
func (h *Handler) ListAlerts(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()
	if raw := c.QueryParam("patient_id"); raw != "" {
		pid, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		items, total, err := h.mgr.ListByPatient(ctx, pid, pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithNext(c.Request().URL))
	}
	items, total, err := h.mgr.ListOpen(ctx, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithNext(c.Request().URL))
}

func (h *Handler) ListRecordAlerts(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}
	items, err := h.mgr.ListByRecord(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Instance{}
	}
	return c.JSON(http.StatusOK, items)
}

// Acknowledge records the authenticated professional as the acknowledger.
func (h *Handler) Acknowledge(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, err := auth.ActorID(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	}
	inst, err := h.mgr.Acknowledge(c.Request().Context(), id, actor)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "alert not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, inst)
}

type duplicateCheckResponse struct {
	RuleID        uuid.UUID `json:"rule_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	WindowMinutes int       `json:"window_minutes"`
	ShouldFire    bool      `json:"should_fire"`
}

// DuplicateCheck reports whether the rule may fire for patient_id now given
// window_minutes.
func (h *Handler) DuplicateCheck(c echo.Context) error {
	ruleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid rule id")
	}
	patientID, err := uuid.Parse(c.QueryParam("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	window, err := strconv.Atoi(c.QueryParam("window_minutes"))
	if err != nil || window < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "window_minutes must be a non-negative integer")
	}
	ok, err := h.dedup.ShouldFire(c.Request().Context(), RuleKey(ruleID, patientID), window)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, duplicateCheckResponse{
		RuleID:        ruleID,
		PatientID:     patientID,
		WindowMinutes: window,
		ShouldFire:    ok,
	})
}
