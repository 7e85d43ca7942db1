package main

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/infergate/infergate/internal/api"
	"github.com/infergate/infergate/internal/config"
)

var errNilConfig = errors.New("config is required")

// dataRegistrar mounts the Ollama-compatible data plane.
type dataRegistrar interface {
	RegisterRoutes(*http.ServeMux)
}

// adminRegistrar mounts endpoints whose mutating routes sit behind the
// admin gate.
type adminRegistrar interface {
	RegisterRoutes(*http.ServeMux, *api.AdminAuth)
}

// buildMux assembles the gateway's routes: the data plane, the control
// plane, the audit API, and the Prometheus endpoint when enabled.
func buildMux(cfg *config.Config, data dataRegistrar, control, auditAPI adminRegistrar, admin *api.AdminAuth) (*http.ServeMux, error) {
	if cfg == nil {
		return nil, errNilConfig
	}

	mux := http.NewServeMux()
	if data != nil {
		data.RegisterRoutes(mux)
	}
	if control != nil {
		control.RegisterRoutes(mux, admin)
	}
	if auditAPI != nil {
		auditAPI.RegisterRoutes(mux, admin)
	}
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}
	return mux, nil
}
