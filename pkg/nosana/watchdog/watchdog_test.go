package watchdog

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/InferiaAI/depin-sidecar/internal/audit"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/model"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/network"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/orchestrator"
)

type fakeLauncher struct {
	mu         sync.Mutex
	relaunched []*model.Deployment
	spawned    []*model.Deployment
	terminated []string
	relaunchErr error
}

func (f *fakeLauncher) Relaunch(ctx context.Context, d *model.Deployment) (*model.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.relaunchErr != nil {
		return nil, f.relaunchErr
	}
	nd := &model.Deployment{DeploymentID: "relaunched-" + d.DeploymentID, ProviderInstanceID: "pi-new", StartTime: time.Now()}
	f.relaunched = append(f.relaunched, nd)
	return nd, nil
}

func (f *fakeLauncher) Spawn(d *model.Deployment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spawned = append(f.spawned, d)
}

func (f *fakeLauncher) MarkTerminated(deploymentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, deploymentID)
}

func newTestOrchestrator(t *testing.T, heartbeats *[]model.HeartbeatEvent, mu *sync.Mutex) *orchestrator.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/inventory/heartbeat" {
			var ev model.HeartbeatEvent
			_ = json.NewDecoder(r.Body).Decode(&ev)
			mu.Lock()
			*heartbeats = append(*heartbeats, ev)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return orchestrator.New(srv.URL, srv.URL, "key", slog.Default())
}

type fakeGateway struct {
	network.Gateway
	snapshots []network.DeploymentSnapshot
	idx       int
	jobs      []model.Job
}

func (g *fakeGateway) GetDeployment(ctx context.Context, id string) (network.DeploymentSnapshot, error) {
	if g.idx >= len(g.snapshots) {
		return g.snapshots[len(g.snapshots)-1], nil
	}
	s := g.snapshots[g.idx]
	g.idx++
	return s, nil
}

func (g *fakeGateway) ListDeploymentJobs(ctx context.Context, id string, state model.JobState) ([]model.Job, error) {
	return g.jobs, nil
}

func (g *fakeGateway) UpdateDeploymentTimeout(ctx context.Context, id string, minutes int) (int, error) {
	return minutes, nil
}

func TestWatchdog_UserStoppedNoRelaunch(t *testing.T) {
	var heartbeats []model.HeartbeatEvent
	var mu sync.Mutex
	orch := newTestOrchestrator(t, &heartbeats, &mu)

	d := &model.Deployment{DeploymentID: "dep-1", ProviderInstanceID: "pi-1", UserStopped: true, StartTime: time.Now()}
	gw := &fakeGateway{snapshots: []network.DeploymentSnapshot{{Status: model.StatusStopped}}}
	launcher := &fakeLauncher{}
	wd := New(d, gw, orch, audit.NewWriter(orch, slog.Default()), launcher, slog.Default())

	done := wd.tick(context.Background())
	if !done {
		t.Fatal("expected tick to report done on terminal status")
	}

	mu.Lock()
	defer mu.Unlock()
	terminatedCount := 0
	for _, ev := range heartbeats {
		if ev.State == model.HeartbeatTerminated {
			terminatedCount++
		}
	}
	if terminatedCount != 1 {
		t.Errorf("terminated heartbeats = %d, want exactly 1", terminatedCount)
	}
	if len(launcher.relaunched) != 0 {
		t.Error("should not relaunch when userStopped")
	}
	if len(launcher.terminated) != 1 || launcher.terminated[0] != "dep-1" {
		t.Errorf("MarkTerminated calls = %+v", launcher.terminated)
	}
}

func TestWatchdog_FastFailureNoRelaunch(t *testing.T) {
	var heartbeats []model.HeartbeatEvent
	var mu sync.Mutex
	orch := newTestOrchestrator(t, &heartbeats, &mu)

	d := &model.Deployment{
		DeploymentID:   "dep-2",
		ProviderInstanceID: "pi-2",
		StartTime:      time.Now().Add(-1 * time.Minute), // well under MinRuntimeForRedeploy
		JobDefinition:  []byte(`{}`),
		MarketAddress:  "market-1",
	}
	gw := &fakeGateway{snapshots: []network.DeploymentSnapshot{{Status: model.StatusError}}}
	launcher := &fakeLauncher{}
	wd := New(d, gw, orch, audit.NewWriter(orch, slog.Default()), launcher, slog.Default())

	wd.tick(context.Background())

	if len(launcher.relaunched) != 0 {
		t.Error("should not relaunch below MinRuntimeForRedeploy even with a held definition")
	}

	mu.Lock()
	defer mu.Unlock()
	var sawFailed, sawTerminated bool
	for _, ev := range heartbeats {
		if ev.State == model.HeartbeatFailed {
			sawFailed = true
		}
		if ev.State == model.HeartbeatTerminated {
			sawTerminated = true
		}
	}
	if !sawFailed || !sawTerminated {
		t.Errorf("expected both failed and terminated heartbeats, got %+v", heartbeats)
	}
}

func TestWatchdog_RelaunchesWhenEligible(t *testing.T) {
	var heartbeats []model.HeartbeatEvent
	var mu sync.Mutex
	orch := newTestOrchestrator(t, &heartbeats, &mu)

	d := &model.Deployment{
		DeploymentID:   "dep-3",
		ProviderInstanceID: "pi-3",
		StartTime:      time.Now().Add(-25 * time.Minute), // above MinRuntimeForRedeploy
		JobDefinition:  []byte(`{"ops":[]}`),
		MarketAddress:  "market-1",
	}
	gw := &fakeGateway{snapshots: []network.DeploymentSnapshot{{Status: model.StatusStopped}}}
	launcher := &fakeLauncher{}
	wd := New(d, gw, orch, audit.NewWriter(orch, slog.Default()), launcher, slog.Default())

	wd.tick(context.Background())

	if len(launcher.relaunched) != 1 {
		t.Fatalf("relaunched = %d, want 1", len(launcher.relaunched))
	}
	if len(launcher.spawned) != 1 {
		t.Fatalf("spawned = %d, want 1", len(launcher.spawned))
	}
}

func TestWatchdog_AutoExtendNearThreshold(t *testing.T) {
	var heartbeats []model.HeartbeatEvent
	var mu sync.Mutex
	orch := newTestOrchestrator(t, &heartbeats, &mu)

	d := &model.Deployment{
		DeploymentID:   "dep-4",
		ProviderInstanceID: "pi-4",
		StartTime:      time.Now(),
		LastExtendTime: time.Now().Add(-(JobTimeout - ExtendThreshold + time.Second)),
		LastStatus:     model.StatusRunning,
	}
	gw := &fakeGateway{snapshots: []network.DeploymentSnapshot{{Status: model.StatusRunning}}}
	launcher := &fakeLauncher{}
	wd := New(d, gw, orch, audit.NewWriter(orch, slog.Default()), launcher, slog.Default())

	wd.tick(context.Background())

	if time.Since(d.LastExtendTime) > time.Minute {
		t.Error("LastExtendTime should have been refreshed by auto-extend")
	}
}
