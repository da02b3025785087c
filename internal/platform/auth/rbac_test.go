package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func runWithRoles(roles []string, mw echo.MiddlewareFunc) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(ContextWithUser(context.Background(), "u", roles))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return rec, mw(okHandler)(c)
}

func TestRequireRole_Allowed(t *testing.T) {
	rec, err := runWithRoles([]string{RoleClinician}, RequireRole(RoleClinician, RoleService))
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	_, err := runWithRoles([]string{RoleService}, RequireRole(RoleClinician))
	expectStatus(t, err, http.StatusForbidden)
}

func TestRequireRole_NoRoles(t *testing.T) {
	_, err := runWithRoles(nil, RequireRole(RoleClinician))
	expectStatus(t, err, http.StatusForbidden)
}

func TestRequireRole_AdminBypass(t *testing.T) {
	_, err := runWithRoles([]string{RoleAdmin}, RequireRole(RoleService))
	if err != nil {
		t.Errorf("admin should pass, got %v", err)
	}
}
