package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/InferiaAI/depin-sidecar/internal/config"
)

func TestServer_Health(t *testing.T) {
	tests := []struct {
		name        string
		names       []string
		wantStatus  string
		wantNosana  string
	}{
		{name: "credentials present", names: []string{"default"}, wantStatus: "ok", wantNosana: "active"},
		{name: "no credentials", names: nil, wantStatus: "degraded", wantNosana: "disabled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{CORSAllowedOrigins: []string{"*"}}
			srv := NewServer(cfg, slog.Default(), nil, prometheus.NewRegistry(), func() []string { return tt.names })

			r := httptest.NewRequest(http.MethodGet, "/health", nil)
			w := httptest.NewRecorder()
			srv.ServeHTTP(w, r)

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}

			var body healthResponse
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decoding response: %v", err)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			if body.Modules.Nosana != tt.wantNosana {
				t.Errorf("modules.nosana = %q, want %q", body.Modules.Nosana, tt.wantNosana)
			}
			if len(body.Modules.Credentials) != len(tt.names) {
				t.Errorf("modules.credentials = %v, want %v", body.Modules.Credentials, tt.names)
			}
		})
	}
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := &config.Config{CORSAllowedOrigins: []string{"*"}}
	srv := NewServer(cfg, slog.Default(), nil, reg, func() []string { return nil })

	r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}
