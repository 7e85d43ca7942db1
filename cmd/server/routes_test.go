package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/infergate/infergate/internal/api"
	"github.com/infergate/infergate/internal/config"
)

type fakeGateway struct{}

func (fakeGateway) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/generate", func(http.ResponseWriter, *http.Request) {})
	mux.HandleFunc("GET /api/tags", func(http.ResponseWriter, *http.Request) {})
}

type fakeAdminAPI struct{ route string }

func (f fakeAdminAPI) RegisterRoutes(mux *http.ServeMux, _ *api.AdminAuth) {
	mux.HandleFunc(f.route, func(http.ResponseWriter, *http.Request) {})
}

func TestBuildMux_RegistersAllSurfaces(t *testing.T) {
	cfg := &config.Config{
		Metrics: config.Metrics{Enabled: true, Path: "/metrics"},
	}

	mux, err := buildMux(cfg, fakeGateway{}, fakeAdminAPI{route: "POST /v1/route"}, fakeAdminAPI{route: "GET /v1/decisions"}, nil)
	if err != nil {
		t.Fatalf("buildMux() error = %v", err)
	}

	if got := routePattern(mux, http.MethodPost, "/api/generate"); got != "POST /api/generate" {
		t.Fatalf("mux missing data route, got pattern %q", got)
	}
	if got := routePattern(mux, http.MethodPost, "/v1/route"); got != "POST /v1/route" {
		t.Fatalf("mux missing control route, got pattern %q", got)
	}
	if got := routePattern(mux, http.MethodGet, "/v1/decisions"); got != "GET /v1/decisions" {
		t.Fatalf("mux missing audit route, got pattern %q", got)
	}
	if got := routePattern(mux, http.MethodGet, "/metrics"); got != "GET /metrics" {
		t.Fatalf("mux missing metrics route, got pattern %q", got)
	}
}

func TestBuildMux_MetricsDisabled_OmitsEndpoint(t *testing.T) {
	cfg := &config.Config{
		Metrics: config.Metrics{Enabled: false, Path: "/metrics"},
	}

	mux, err := buildMux(cfg, fakeGateway{}, nil, nil, nil)
	if err != nil {
		t.Fatalf("buildMux() error = %v", err)
	}

	if got := routePattern(mux, http.MethodGet, "/metrics"); got != "" {
		t.Fatalf("metrics route registered while disabled, got pattern %q", got)
	}
}

func TestBuildMux_NilConfig(t *testing.T) {
	if _, err := buildMux(nil, fakeGateway{}, nil, nil, nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func routePattern(mux *http.ServeMux, method, path string) string {
	req := httptest.NewRequest(method, path, nil)
	_, pattern := mux.Handler(req)
	return pattern
}
