package delivery

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/carealert/internal/domain/alert"
	"github.com/ehr/carealert/internal/platform/auth"
)

type Handler struct {
	disp  *Dispatcher
	prefs PreferenceRepository
	known map[string]bool
}

// NewHandler builds the delivery routes. channels lists the channel names
// a preference may refer to.
func NewHandler(disp *Dispatcher, prefs PreferenceRepository, channels []string) *Handler {
	known := make(map[string]bool, len(channels))
	for _, ch := range channels {
		known[ch] = true
	}
	return &Handler{disp: disp, prefs: prefs, known: known}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	clinician := auth.RequireRole(auth.RoleClinician)

	api.GET("/alerts/:id/deliveries", h.ListForAlert, clinician)
	api.GET("/deliveries/:id/attempts", h.ListAttempts, clinician)
	api.POST("/deliveries/:id/retry", h.Retry, auth.RequireRole(auth.RoleClinician, auth.RoleService))

	api.GET("/professionals/:id/notification-preferences", h.GetPreferences, clinician)
	api.PUT("/professionals/:id/notification-preferences", h.PutPreferences, clinician)
}

func (h *Handler) ListForAlert(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid alert id")
	}
	items, err := h.disp.ListByInstance(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Delivery{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListAttempts(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid delivery id")
	}
	items, err := h.disp.ListAttempts(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "delivery not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Attempt{}
	}
	return c.JSON(http.StatusOK, items)
}

// Retry re-dispatches a failed delivery and returns its new state.
func (h *Handler) Retry(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid delivery id")
	}
	del, err := h.disp.Redispatch(c.Request().Context(), id)
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, alert.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "delivery not found")
	case errors.Is(err, ErrNotFailed):
		return echo.NewHTTPError(http.StatusConflict, fmt.Sprintf("delivery is %s", del.Status))
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, del)
}

func (h *Handler) GetPreferences(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid professional id")
	}
	items, err := h.prefs.ListForProfessional(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Preference{}
	}
	return c.JSON(http.StatusOK, items)
}

type preferencesRequest struct {
	Channels []struct {
		Channel string `json:"channel"`
		Enabled bool   `json:"enabled"`
	} `json:"channels"`
}

// PutPreferences replaces the professional's preference set. An empty list
// restores the defaults.
func (h *Handler) PutPreferences(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid professional id")
	}
	var req preferencesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	prefs := make([]*Preference, 0, len(req.Channels))
	seen := make(map[string]bool)
	for _, ch := range req.Channels {
		if !h.known[ch.Channel] {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown channel %q", ch.Channel))
		}
		if seen[ch.Channel] {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("channel %q listed twice", ch.Channel))
		}
		seen[ch.Channel] = true
		prefs = append(prefs, &Preference{ProfessionalID: id, Channel: ch.Channel, Enabled: ch.Enabled})
	}
	if err := h.prefs.Replace(c.Request().Context(), id, prefs); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, prefs)
}
