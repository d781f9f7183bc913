package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/InferiaAI/depin-sidecar/internal/audit"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/model"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/network"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/orchestrator"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/provider"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/registry"
)

type stubSigner struct{}

func (stubSigner) Sign(context.Context, string) (model.SignedToken, error) {
	return model.SignedToken{Message: "m", Signature: "s", IssuedAt: time.Now()}, nil
}
func (stubSigner) Invalidate(context.Context, string) {}

func newTestOrchestrator(t *testing.T) *orchestrator.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return orchestrator.New(srv.URL, srv.URL, "key", slog.Default())
}

// newTestRouter wires one default credential's ProviderClient against a
// fake Network server and mounts it under /nosana, mirroring how app.go
// mounts the RouterSurface handler on the top-level Server.
func newTestRouter(t *testing.T, networkHandler http.HandlerFunc) (chi.Router, *provider.Client) {
	t.Helper()
	netSrv := httptest.NewServer(networkHandler)
	t.Cleanup(netSrv.Close)

	gw := network.NewRESTGateway(netSrv.URL, "key")
	orch := newTestOrchestrator(t)
	auditor := audit.NewWriter(orch, slog.Default())
	client := provider.New("default", gw, stubSigner{}, "nos.example", orch, auditor, slog.Default())

	reg := registry.New[*provider.Client]()
	reg.Set("default", client, true)

	h := NewHandler(reg, slog.Default())
	r := chi.NewRouter()
	r.Mount("/nosana", h.Routes())
	return r, client
}

func TestHandleLaunch_Success(t *testing.T) {
	r, _ := newTestRouter(t, func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case req.URL.Path == "/api/deployments":
			_, _ = w.Write([]byte(`{"id":"D1"}`))
		case req.URL.Path == "/api/deployments/D1/start":
			_, _ = w.Write([]byte(`{"status":"STARTING"}`))
		case req.URL.Path == "/api/deployments/D1":
			_, _ = w.Write([]byte(`{"status":"RUNNING","endpoints":[{"url":"https://svc"}]}`))
		case req.URL.Path == "/api/deployments/D1/jobs":
			_, _ = w.Write([]byte(`[{"job":"J1","state":"RUNNING"}]`))
		}
	})

	body := `{"jobDefinition":{"image":"x"},"marketAddress":"M1","isConfidential":false}`
	req := httptest.NewRequest(http.MethodPost, "/nosana/jobs/launch", strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp launchResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.DeploymentID != "D1" || resp.JobAddress != "J1" || resp.ServiceURL != "https://svc" || resp.Status != "success" {
		t.Errorf("response = %+v", resp)
	}
}

func TestHandleLaunch_ValidationError(t *testing.T) {
	r, _ := newTestRouter(t, func(w http.ResponseWriter, req *http.Request) {})

	req := httptest.NewRequest(http.MethodPost, "/nosana/jobs/launch", strings.NewReader(`{"marketAddress":"M1"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if _, ok := body["error"]; !ok {
		t.Errorf("expected single-field error envelope, got %v", body)
	}
}

func TestHandleLaunch_UnknownCredential(t *testing.T) {
	r, _ := newTestRouter(t, func(w http.ResponseWriter, req *http.Request) {})

	body := `{"jobDefinition":{"image":"x"},"marketAddress":"M1","credentialName":"ghost"}`
	req := httptest.NewRequest(http.MethodPost, "/nosana/jobs/launch", strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestHandleStop_ResolvesJobAddressToDeployment(t *testing.T) {
	var stoppedPath string
	r, client := newTestRouter(t, func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if req.Method == http.MethodPost && strings.HasSuffix(req.URL.Path, "/stop") {
			stoppedPath = req.URL.Path
			_, _ = w.Write([]byte(`{"status":"STOPPED"}`))
		}
	})
	client.Spawn(&model.Deployment{DeploymentID: "D1", JobAddresses: []string{"J1"}})

	req := httptest.NewRequest(http.MethodPost, "/nosana/jobs/stop", strings.NewReader(`{"jobAddress":"J1"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if stoppedPath != "/api/deployments/D1/stop" {
		t.Errorf("stopped path = %q, want /api/deployments/D1/stop", stoppedPath)
	}
	if d, ok := client.Get("D1"); !ok || !d.UserStopped {
		t.Error("expected D1 to be marked user-stopped")
	}
}

func TestHandleStop_UnknownJobAddress(t *testing.T) {
	r, _ := newTestRouter(t, func(w http.ResponseWriter, req *http.Request) {})

	req := httptest.NewRequest(http.MethodPost, "/nosana/jobs/stop", strings.NewReader(`{"jobAddress":"ghost"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestHandleGetJob(t *testing.T) {
	r, client := newTestRouter(t, func(w http.ResponseWriter, req *http.Request) {})
	client.Spawn(&model.Deployment{
		DeploymentID: "D1",
		JobAddresses: []string{"J1"},
		ServiceURL:   "https://svc",
		LastStatus:   model.StatusRunning,
	})

	req := httptest.NewRequest(http.MethodGet, "/nosana/jobs/D1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp jobResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.JobState != "RUNNING" || resp.ServiceURL != "https://svc" || len(resp.Endpoints) != 1 {
		t.Errorf("response = %+v", resp)
	}
}

func TestHandleGetJob_NotFound(t *testing.T) {
	r, _ := newTestRouter(t, func(w http.ResponseWriter, req *http.Request) {})

	req := httptest.NewRequest(http.MethodGet, "/nosana/jobs/ghost", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestHandleGetJobLogs_PendingThenCompleted(t *testing.T) {
	state := "RUNNING"
	r, client := newTestRouter(t, func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case req.URL.Path == "/api/jobs/J1":
			_, _ = w.Write([]byte(`{"state":"` + state + `"}`))
		case req.URL.Path == "/api/jobs/J1/result":
			_, _ = w.Write([]byte(`{"exitCode":0,"output":"done"}`))
		}
	})
	client.Spawn(&model.Deployment{DeploymentID: "D1", JobAddresses: []string{"J1"}})

	req := httptest.NewRequest(http.MethodGet, "/nosana/jobs/D1/logs", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var pending logsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &pending)
	if pending.Status != "pending" {
		t.Errorf("status = %q, want pending while RUNNING", pending.Status)
	}

	state = "COMPLETED"
	req = httptest.NewRequest(http.MethodGet, "/nosana/jobs/D1/logs", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var completed logsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &completed); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if completed.Status != "completed" || completed.Result == nil {
		t.Errorf("response = %+v", completed)
	}
}

func TestHandleBalance(t *testing.T) {
	r, _ := newTestRouter(t, func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if req.URL.Path == "/api/balance" {
			_, _ = w.Write([]byte(`{"assignedCredits":10,"reservedCredits":2,"settledCredits":8}`))
		}
	})

	req := httptest.NewRequest(http.MethodGet, "/nosana/balance", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp balanceResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.AssignedCredits != 10 || resp.ReservedCredits != 2 || resp.SettledCredits != 8 {
		t.Errorf("response = %+v", resp)
	}
}

func TestHandleBalance_RemoteError(t *testing.T) {
	r, _ := newTestRouter(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"boom"}`))
	})

	req := httptest.NewRequest(http.MethodGet, "/nosana/balance", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500: %s", w.Code, w.Body.String())
	}
}
