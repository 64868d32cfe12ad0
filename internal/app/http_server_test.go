package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	healthcheck "github.com/vladislavdragonenkov/shopfront/internal/health"
	"github.com/vladislavdragonenkov/shopfront/internal/version"
)

func TestMetricsMux_Livez(t *testing.T) {
	mux := newMetricsMux(healthcheck.NewHandler(version.String()))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected livez status: %d", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("unexpected livez body: %q", rec.Body.String())
	}
}

func TestMetricsMux_MetricsEndpoint(t *testing.T) {
	mux := newMetricsMux(healthcheck.NewHandler(version.String()))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected metrics status: %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected non-empty metrics exposition")
	}
}

func TestMetricsMux_HealthzReflectsCheckers(t *testing.T) {
	handler := healthcheck.NewHandler(version.String())
	handler.RegisterChecker("storage", healthcheck.NewSimpleChecker("storage", func() error {
		return nil
	}))
	mux := newMetricsMux(handler)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected healthz status: %d", rec.Code)
	}

	var resp healthcheck.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode healthz body: %v", err)
	}
	if resp.Status != healthcheck.StatusHealthy {
		t.Fatalf("unexpected overall status: %s", resp.Status)
	}
	if _, ok := resp.Checks["storage"]; !ok {
		t.Fatalf("expected storage check in response: %+v", resp.Checks)
	}
}

func TestMetricsMux_ReadyzFailsOnUnhealthyChecker(t *testing.T) {
	handler := healthcheck.NewHandler(version.String())
	handler.RegisterChecker("storage", healthcheck.NewSimpleChecker("storage", func() error {
		return errors.New("connection refused")
	}))
	mux := newMetricsMux(handler)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected readyz status: %d", rec.Code)
	}
}
