package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/carealert/internal/config"
	"github.com/ehr/carealert/internal/domain/careteam"
	"github.com/ehr/carealert/internal/platform/auth"
)

type stubTeam struct {
	profs map[uuid.UUID]*careteam.Professional
}

func (s *stubTeam) ListByPatient(context.Context, uuid.UUID) ([]*careteam.Membership, error) {
	return nil, nil
}

func (s *stubTeam) ListActiveProfessionals(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

func (s *stubTeam) ListPatientsForProfessional(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

func (s *stubTeam) GetProfessional(_ context.Context, id uuid.UUID) (*careteam.Professional, error) {
	p, ok := s.profs[id]
	if !ok {
		return nil, careteam.ErrNotFound
	}
	return p, nil
}

func baseConfig() *config.Config {
	return &config.Config{
		Env:               "development",
		ClassifierBackend: "http",
		ClassifierURL:     "http://classifier.local/analyze",
		ClassifierTimeout: 10 * time.Second,
		DeliveryChannels:  []string{"in_app"},
	}
}

func TestBuildRegistry_InAppOnly(t *testing.T) {
	reg, rc, err := buildRegistry(baseConfig(), nil, &stubTeam{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rc != nil {
		t.Error("expected no redis client without the push channel")
	}
	names := reg.Names()
	if len(names) != 1 || names[0] != "in_app" {
		t.Errorf("expected [in_app], got %v", names)
	}
}

func TestBuildRegistry_AllChannels(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := baseConfig()
	cfg.DeliveryChannels = []string{"email", "webhook", "push"}
	cfg.SMTPHost = "smtp.local"
	cfg.SMTPFrom = "alerts@example.com"
	cfg.WebhookURL = "http://hooks.local/alerts"
	cfg.RedisURL = "redis://" + mr.Addr() + "/0"

	reg, rc, err := buildRegistry(cfg, nil, &stubTeam{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rc == nil {
		t.Fatal("expected a redis client for the push channel")
	}
	defer rc.Close()

	want := []string{"email", "in_app", "push", "webhook"}
	got := reg.Names()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestBuildRegistry_UnknownChannel(t *testing.T) {
	cfg := baseConfig()
	cfg.DeliveryChannels = []string{"in_app", "pager"}
	if _, _, err := buildRegistry(cfg, nil, &stubTeam{}); err == nil {
		t.Fatal("expected error for unknown channel")
	}
}

func TestBuildRegistry_BadRedisURL(t *testing.T) {
	cfg := baseConfig()
	cfg.DeliveryChannels = []string{"push"}
	cfg.RedisURL = "not-a-url"
	if _, _, err := buildRegistry(cfg, nil, &stubTeam{}); err == nil {
		t.Fatal("expected error for malformed redis url")
	}
}

func TestProfessionalEmails(t *testing.T) {
	id := uuid.New()
	book := professionalEmails(&stubTeam{profs: map[uuid.UUID]*careteam.Professional{
		id: {ID: id, DisplayName: "Dr. A", Email: "a@example.com"},
	}})

	got, err := book.EmailFor(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "a@example.com" {
		t.Errorf("expected a@example.com, got %q", got)
	}

	if _, err := book.EmailFor(context.Background(), uuid.New()); !errors.Is(err, careteam.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestClassifierBackend(t *testing.T) {
	cfg := baseConfig()
	c, err := classifierBackend(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Name() != "http" {
		t.Errorf("expected http backend, got %s", c.Name())
	}

	cfg.ClassifierBackend = "openai"
	cfg.OpenAIAPIKey = "sk-test"
	c, err = classifierBackend(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Name() != "openai" {
		t.Errorf("expected openai backend, got %s", c.Name())
	}

	cfg.ClassifierBackend = "grpc"
	if _, err := classifierBackend(cfg); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestMigrationSource_Embedded(t *testing.T) {
	entries, err := fs.Glob(migrationSource(""), "*.sql")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected embedded migrations")
	}
}

func TestMigrationSource_Dir(t *testing.T) {
	dir := t.TempDir()
	entries, err := fs.Glob(migrationSource(dir), "*.sql")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty override dir, got %v", entries)
	}
}

func TestRateLimitConfig(t *testing.T) {
	cfg := baseConfig()
	rl := rateLimitConfig(cfg)
	if rl.RequestsPerSecond != 50 || rl.BurstSize != 100 {
		t.Errorf("expected defaults 50/100, got %v/%d", rl.RequestsPerSecond, rl.BurstSize)
	}

	cfg.RateLimitRPS = 5
	cfg.RateLimitBurst = 10
	rl = rateLimitConfig(cfg)
	if rl.RequestsPerSecond != 5 || rl.BurstSize != 10 {
		t.Errorf("expected 5/10, got %v/%d", rl.RequestsPerSecond, rl.BurstSize)
	}
}

func TestNewEcho_ProbesAreOpen(t *testing.T) {
	e := newEcho(zerolog.Nop())

	for _, path := range []string{"/health", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestAuthMiddleware_Production(t *testing.T) {
	cfg := baseConfig()
	cfg.Env = "production"
	cfg.AuthSigningKey = "secret"

	e := newEcho(zerolog.Nop())
	api := e.Group("/api/v1")
	api.Use(authMiddleware(cfg))
	api.GET("/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, auth.UserIDFromContext(c.Request().Context()))
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a token, got %d", rec.Code)
	}
}

func TestAuthMiddleware_Development(t *testing.T) {
	e := newEcho(zerolog.Nop())
	api := e.Group("/api/v1")
	api.Use(authMiddleware(baseConfig()))
	api.GET("/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, auth.UserIDFromContext(c.Request().Context()))
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != auth.DevUserID.String() {
		t.Errorf("expected dev user, got %q", rec.Body.String())
	}
}
