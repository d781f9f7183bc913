// Package router implements C7: RouterSurface, the HTTP entry point for
// launching, stopping, and inspecting deployments and fetching their logs, plus
// balance lookup. It resolves a ProviderClient from the registry by
// credential name, validates inputs, and normalizes every failure kind from
// spec.md §7 into the matching HTTP status and `{ error: string }` body.
package router

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/InferiaAI/depin-sidecar/internal/httpserver"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/model"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/provider"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/registry"
)

// Handler provides the /nosana/* HTTP handlers.
type Handler struct {
	registry *registry.Registry[*provider.Client]
	logger   *slog.Logger
}

// NewHandler builds a RouterSurface handler over reg.
func NewHandler(reg *registry.Registry[*provider.Client], logger *slog.Logger) *Handler {
	return &Handler{registry: reg, logger: logger}
}

// Routes mounts this handler's endpoints (spec.md §6).
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/balance", h.handleBalance)
	r.Post("/jobs/launch", h.handleLaunch)
	r.Post("/jobs/stop", h.handleStop)
	r.Get("/jobs/{id}", h.handleGetJob)
	r.Get("/jobs/{id}/logs", h.handleGetJobLogs)
	return r
}

// resolve implements the "absence ⇒ default" credential-selection rule
// (spec.md §4.7) and writes the 503 {error} response on failure.
func (h *Handler) resolve(w http.ResponseWriter, credentialName string) (*provider.Client, bool) {
	client, ok := h.registry.Get(credentialName)
	if !ok {
		httpserver.RespondError(w, http.StatusServiceUnavailable, (&model.NotInitialized{CredentialName: credentialName}).Error())
		return nil, false
	}
	return client, true
}

// writeGatewayError maps a NetworkGateway/AuthSigner error to spec.md §7's
// status codes: auth failures are 503; a Remote Network error (whose text
// carries the upstream body), a LaunchFailed and anything unclassified are
// 500. Not-initialized credentials never reach here: resolve answers 503.
func writeGatewayError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var authUnavailable *model.AuthUnavailable
	if errors.As(err, &authUnavailable) {
		httpserver.RespondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	var authRejected *model.AuthRejected
	if errors.As(err, &authRejected) {
		httpserver.RespondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	var remote *model.Remote
	if errors.As(err, &remote) {
		logger.Error("router: remote network error", "status", remote.Status, "body", remote.Body)
		httpserver.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var launchFailed *model.LaunchFailed
	if errors.As(err, &launchFailed) {
		httpserver.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.Error("router: unclassified gateway error", "error", err)
	httpserver.RespondError(w, http.StatusInternalServerError, err.Error())
}
