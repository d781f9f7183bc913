package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/InferiaAI/depin-sidecar/pkg/nosana/model"
)

func TestFetchCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/internal/config/credentials" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("X-Internal-API-Key"); got != "secret-key" {
			t.Errorf("X-Internal-API-Key = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"legacy":{"name":"default","apiKey":"k1","active":true},"credentials":[{"name":"alt","privateKey":"p1","active":true}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.URL, "secret-key", slog.Default())
	snap, err := c.FetchCredentials(context.Background())
	if err != nil {
		t.Fatalf("FetchCredentials: %v", err)
	}
	if snap.Legacy == nil || snap.Legacy.Name != "default" {
		t.Fatalf("legacy = %+v", snap.Legacy)
	}
	if len(snap.Entries) != 1 || snap.Entries[0].Name != "alt" {
		t.Fatalf("entries = %+v", snap.Entries)
	}
}

func TestSendHeartbeat(t *testing.T) {
	var got model.HeartbeatEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inventory/heartbeat" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.URL, "key", slog.Default())
	ev := model.HeartbeatEvent{Provider: "nosana", ProviderInstanceID: "pi-1", State: model.HeartbeatReady, HealthScore: 100}
	if err := c.SendHeartbeat(context.Background(), ev); err != nil {
		t.Fatalf("SendHeartbeat: %v", err)
	}
	if got.ProviderInstanceID != "pi-1" {
		t.Errorf("ProviderInstanceID = %q", got.ProviderInstanceID)
	}
}

func TestSendHeartbeat_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.URL, "key", slog.Default())
	if err := c.SendHeartbeat(context.Background(), model.HeartbeatEvent{}); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestWriteAudit_NeverPanicsOnFailure(t *testing.T) {
	c := New("http://127.0.0.1:0", "http://127.0.0.1:0", "key", slog.Default())
	c.WriteAudit(context.Background(), AuditEvent{Action: "DEPLOYMENT_LAUNCHED", ResourceType: "deployment", ResourceID: "dep-1", Status: "success"})
}
