package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"

	"github.com/InferiaAI/depin-sidecar/internal/httpserver"
)

// handleLaunch implements POST /nosana/jobs/launch (spec.md §4.3, §6).
func (h *Handler) handleLaunch(w http.ResponseWriter, r *http.Request) {
	var req launchRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	client, ok := h.resolve(w, req.CredentialName)
	if !ok {
		return
	}

	result, err := client.Launch(r.Context(), []byte(req.JobDefinition), req.MarketAddress, req.confidential())
	if err != nil {
		writeGatewayError(w, h.logger, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, launchResponse{
		DeploymentID: result.DeploymentID,
		JobAddress:   result.JobAddress,
		ServiceURL:   result.ServiceURL,
		Status:       "success",
	})
}

// handleStop implements POST /nosana/jobs/stop: marks the deployment
// user-stopped, then issues the external stop (spec.md §4.4, §6). The
// request is keyed by jobAddress on the wire; the router resolves it to the
// owning deployment before calling ProviderClient.Stop.
func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	client, ok := h.resolve(w, req.CredentialName)
	if !ok {
		return
	}

	deployment, ok := client.FindByJobAddress(req.JobAddress)
	if !ok {
		httpserver.RespondError(w, http.StatusServiceUnavailable, "no deployment watching job address "+req.JobAddress)
		return
	}

	if _, err := client.Stop(r.Context(), deployment.DeploymentID); err != nil {
		writeGatewayError(w, h.logger, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, stopResponse{
		Status:       "stopped",
		DeploymentID: deployment.DeploymentID,
	})
}

// handleGetJob implements GET /nosana/jobs/:id (spec.md §6). :id is the
// deploymentId — a deployment's identity (spec.md §4 Deployment) — since
// jobAddresses may rotate under SIMPLE-EXTEND and so cannot serve as a
// stable path key.
func (h *Handler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	credentialName := r.URL.Query().Get("credentialName")

	client, ok := h.resolve(w, credentialName)
	if !ok {
		return
	}

	deployment, ok := client.Get(id)
	if !ok {
		httpserver.RespondError(w, http.StatusNotFound, "deployment "+id+" not found")
		return
	}

	var endpoints []string
	if deployment.ServiceURL != "" {
		endpoints = []string{deployment.ServiceURL}
	}

	httpserver.Respond(w, http.StatusOK, jobResponse{
		JobState:     string(deployment.LastStatus),
		ServiceURL:   deployment.ServiceURL,
		Endpoints:    endpoints,
		DeploymentID: deployment.DeploymentID,
		JobAddresses: deployment.JobAddresses,
		UserStopped:  deployment.UserStopped,
	})
}

// handleGetJobLogs implements GET /nosana/jobs/:id/logs (spec.md §6): a
// one-shot poll, distinct from the LogBridge's WebSocket stream. A
// non-terminal job reports "pending"; a terminal one returns its archived
// result.
func (h *Handler) handleGetJobLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	credentialName := r.URL.Query().Get("credentialName")

	client, ok := h.resolve(w, credentialName)
	if !ok {
		return
	}

	deployment, ok := client.Get(id)
	if !ok {
		httpserver.RespondError(w, http.StatusNotFound, "deployment "+id+" not found")
		return
	}
	if len(deployment.JobAddresses) == 0 {
		httpserver.Respond(w, http.StatusOK, logsResponse{Status: "pending"})
		return
	}
	jobAddress := deployment.JobAddresses[len(deployment.JobAddresses)-1]

	detail, err := client.Gateway.GetJobState(r.Context(), jobAddress)
	if err != nil {
		writeGatewayError(w, h.logger, err)
		return
	}
	if !detail.State.Terminal() {
		httpserver.Respond(w, http.StatusOK, logsResponse{Status: "pending"})
		return
	}

	raw, err := client.Gateway.GetJobLogs(r.Context(), jobAddress)
	if err != nil {
		writeGatewayError(w, h.logger, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, logsResponse{Status: "completed", Result: gjson.ParseBytes(raw).Value()})
}

// handleBalance implements GET /nosana/balance (spec.md §6).
func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	credentialName := r.URL.Query().Get("credentialName")

	client, ok := h.resolve(w, credentialName)
	if !ok {
		return
	}

	balance, err := client.GetBalance(r.Context())
	if err != nil {
		writeGatewayError(w, h.logger, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, balanceResponse{
		SOL:             balance.SOL,
		NOS:             balance.NOS,
		AssignedCredits: balance.AssignedCredits,
		ReservedCredits: balance.ReservedCredits,
		SettledCredits:  balance.SettledCredits,
	})
}
