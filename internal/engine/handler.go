package engine

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/carealert/internal/domain/alert"
	"github.com/ehr/carealert/internal/platform/auth"
	"github.com/ehr/carealert/internal/platform/classify"
)

// MetricRepository is the read/write view of patient metrics.
type MetricRepository interface {
	List(ctx context.Context, patientID uuid.UUID) ([]MetricValue, error)
	Upsert(ctx context.Context, patientID uuid.UUID, values []MetricValue) error
}

type Handler struct {
	engine  *Engine
	metrics MetricRepository
}

func NewHandler(engine *Engine, metrics MetricRepository) *Handler {
	return &Handler{engine: engine, metrics: metrics}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	writers := auth.RequireRole(auth.RoleClinician, auth.RoleService)

	api.POST("/records/:id/analyze", h.AnalyzeRecord, writers)
	api.GET("/patients/:id/metrics", h.ListMetrics, auth.RequireRole(auth.RoleClinician))
	api.PUT("/patients/:id/metrics", h.PutMetrics, writers)
}

type analyzeRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
	Text      string    `json:"text"`
}

type analyzeResponse struct {
	RecordID uuid.UUID         `json:"record_id"`
	Result   classify.Result   `json:"result"`
	Alerts   []*alert.Instance `json:"alerts"`
}

// AnalyzeRecord classifies a submitted or edited record. Re-submitting a
// record replaces its previous alerts.
func (h *Handler) AnalyzeRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}
	var req analyzeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.PatientID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	res, insts, err := h.engine.AnalyzeRecord(c.Request().Context(), Record{ID: id, PatientID: req.PatientID, Text: req.Text})
	if errors.Is(err, ErrEmptyRecord) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	if insts == nil {
		insts = []*alert.Instance{}
	}
	return c.JSON(http.StatusOK, analyzeResponse{RecordID: id, Result: res, Alerts: insts})
}

func (h *Handler) ListMetrics(c echo.Context) error {
	pid, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	items, err := h.metrics.List(c.Request().Context(), pid)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []MetricValue{}
	}
	return c.JSON(http.StatusOK, items)
}

type putMetricsRequest struct {
	Metrics []MetricValue `json:"metrics"`
}

func (h *Handler) PutMetrics(c echo.Context) error {
	pid, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	var req putMetricsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	for _, m := range req.Metrics {
		if m.Name == "" || (m.Number == nil) == (m.Bool == nil) {
			return echo.NewHTTPError(http.StatusBadRequest, "each metric needs a name and exactly one of numeric_value or bool_value")
		}
	}
	if err := h.metrics.Upsert(c.Request().Context(), pid, req.Metrics); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
