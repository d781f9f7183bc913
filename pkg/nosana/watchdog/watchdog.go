// Package watchdog implements C3: one task per watched deployment, polling
// the Network, heartbeating the orchestrator, auto-extending job timeout,
// and applying the termination/re-launch policy.
package watchdog

import (
	"context"
	"log/slog"
	"time"

	"github.com/InferiaAI/depin-sidecar/internal/audit"
	"github.com/InferiaAI/depin-sidecar/internal/telemetry"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/model"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/network"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/orchestrator"
)

// Constants from spec.md §4.4.
const (
	PollInterval         = 60 * time.Second
	HeartbeatCadence     = 30 * time.Second
	JobTimeout           = 30 * time.Minute
	ExtendThreshold      = 5 * time.Minute
	ExtendDurationSecs   = 1800
	MinRuntimeForRedeploy = 20 * time.Minute
)

// Launcher is the subset of ProviderClient the watchdog needs to re-launch a
// deployment on the termination policy's redeploy branch. Implemented by
// *provider.Client; kept as an interface here so watchdog never imports
// provider (provider imports watchdog, not the reverse).
type Launcher interface {
	Relaunch(ctx context.Context, d *model.Deployment) (*model.Deployment, error)
	Spawn(d *model.Deployment)
	MarkTerminated(deploymentID string)
}

// Watchdog owns the polling loop for one watched deployment.
type Watchdog struct {
	gateway      network.Gateway
	orchestrator *orchestrator.Client
	auditor      *audit.Writer
	launcher     Launcher
	logger       *slog.Logger

	deployment *model.Deployment
}

// New builds a Watchdog for d. The caller is expected to run it via Run in
// its own goroutine.
func New(d *model.Deployment, gateway network.Gateway, orch *orchestrator.Client, auditor *audit.Writer, launcher Launcher, logger *slog.Logger) *Watchdog {
	return &Watchdog{
		gateway:      gateway,
		orchestrator: orch,
		auditor:      auditor,
		launcher:     launcher,
		logger:       logger,
		deployment:   d,
	}
}

// Run executes the poll loop until a terminal status is observed or ctx is
// cancelled. It never returns an error: per spec.md §4.4, "any step throws:
// log, continue; never crash the loop."
func (w *Watchdog) Run(ctx context.Context) {
	d := w.deployment
	if d.StartTime.IsZero() {
		d.StartTime = time.Now()
	}
	w.auditor.Log(orchestrator.AuditEvent{
		Action:       "WATCHDOG_STARTED",
		ResourceType: "deployment",
		ResourceID:   d.DeploymentID,
		Status:       "success",
	})

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	if w.tick(ctx) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.tick(ctx) {
				return
			}
		}
	}
}

// tick runs one poll iteration. It returns true when the watchdog should
// exit (terminal status handled).
func (w *Watchdog) tick(ctx context.Context) (done bool) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("watchdog: iteration panicked, continuing", "deployment_id", w.deployment.DeploymentID, "panic", r)
			done = false
		}
	}()

	d := w.deployment
	snap, err := w.gateway.GetDeployment(ctx, d.DeploymentID)
	if err != nil {
		w.logger.Warn("watchdog: poll failed, will retry next iteration", "deployment_id", d.DeploymentID, "error", err)
		return false
	}

	if snap.Status != d.LastStatus {
		w.auditor.Log(orchestrator.AuditEvent{
			Action:       "DEPLOYMENT_STATUS_CHANGED",
			ResourceType: "deployment",
			ResourceID:   d.DeploymentID,
			Details:      map[string]string{"old": string(d.LastStatus), "new": string(snap.Status)},
			Status:       "success",
		})
		d.LastStatus = snap.Status
	}

	if url := snap.ServiceURL(); url != "" {
		d.ServiceURL = url
	}

	if d.LastStatus == model.StatusRunning {
		if jobs, err := w.gateway.ListDeploymentJobs(ctx, d.DeploymentID, model.JobRunning); err == nil && len(jobs) > 0 {
			addrs := make([]string, 0, len(jobs))
			for _, j := range jobs {
				addrs = append(addrs, j.Address)
			}
			d.JobAddresses = addrs
		} else if err != nil {
			w.logger.Warn("watchdog: listing jobs failed", "deployment_id", d.DeploymentID, "error", err)
		}

		w.maybeHeartbeat(ctx)
		w.maybeAutoExtend(ctx)
	}

	if snap.Status.Terminal() {
		w.applyTerminationPolicy(ctx, snap.Status)
		return true
	}

	return false
}

func (w *Watchdog) maybeHeartbeat(ctx context.Context) {
	d := w.deployment
	if !d.LastHeartbeat.IsZero() && time.Since(d.LastHeartbeat) < HeartbeatCadence {
		return
	}
	ev := model.NewHeartbeat(d, model.HeartbeatReady, 100)
	ev.ExposeURL = d.ServiceURL
	if err := w.orchestrator.SendHeartbeat(ctx, ev); err != nil {
		w.logger.Warn("watchdog: heartbeat failed", "deployment_id", d.DeploymentID, "error", err)
		return
	}
	telemetry.HeartbeatsSentTotal.WithLabelValues(string(model.HeartbeatReady)).Inc()
	d.LastHeartbeat = time.Now()
}

func (w *Watchdog) maybeAutoExtend(ctx context.Context) {
	d := w.deployment
	if d.LastExtendTime.IsZero() {
		d.LastExtendTime = d.StartTime
	}
	remaining := JobTimeout - time.Since(d.LastExtendTime)
	if remaining > ExtendThreshold || remaining <= 0 {
		return
	}

	action := "JOB_AUTO_EXTENDED"
	status := "success"
	_, err := w.gateway.UpdateDeploymentTimeout(ctx, d.DeploymentID, int(JobTimeout.Minutes()))
	if err == network.ErrUnsupported {
		err = w.extendEachJob(ctx)
	}
	if err != nil {
		action = "JOB_AUTO_EXTEND_FAILED"
		status = "failure"
		w.logger.Warn("watchdog: auto-extend failed", "deployment_id", d.DeploymentID, "error", err)
		telemetry.AutoExtendsTotal.WithLabelValues("failed").Inc()
	} else {
		d.LastExtendTime = time.Now()
		telemetry.AutoExtendsTotal.WithLabelValues("succeeded").Inc()
	}

	w.auditor.Log(orchestrator.AuditEvent{
		Action:       action,
		ResourceType: "deployment",
		ResourceID:   d.DeploymentID,
		Status:       status,
	})
}

func (w *Watchdog) extendEachJob(ctx context.Context) error {
	var lastErr error
	for _, addr := range w.deployment.JobAddresses {
		if err := w.gateway.ExtendJob(ctx, addr, ExtendDurationSecs); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// applyTerminationPolicy implements the decision matrix from spec.md §4.4.
// It is invoked exactly once, when a terminal status is first observed.
func (w *Watchdog) applyTerminationPolicy(ctx context.Context, finalStatus model.DeploymentStatus) {
	d := w.deployment
	runtime := time.Since(d.StartTime)

	w.auditor.Log(orchestrator.AuditEvent{
		Action:       "WATCHDOG_TERMINATED",
		ResourceType: "deployment",
		ResourceID:   d.DeploymentID,
		Details:      map[string]any{"finalStatus": finalStatus, "runtimeMins": runtime.Minutes(), "userStopped": d.UserStopped},
		Status:       "success",
	})

	// Exactly one of these branches runs; only the userStopped and default
	// branches produce the terminated heartbeat directly (it is their
	// outcome), so the closing send below is skipped for them to honor the
	// "never emit after terminated" invariant (spec.md §8).
	alreadyTerminated := false

	switch {
	case d.UserStopped:
		w.sendHeartbeat(ctx, model.HeartbeatTerminated, 0, "")
		alreadyTerminated = true
		telemetry.DeploymentsTerminatedTotal.WithLabelValues("user_stopped").Inc()

	case runtime < MinRuntimeForRedeploy:
		w.sendHeartbeat(ctx, model.HeartbeatFailed, 0, "")
		telemetry.DeploymentsTerminatedTotal.WithLabelValues("failed_fast").Inc()

	case len(d.JobDefinition) > 0 && d.MarketAddress != "":
		newDep, err := w.launcher.Relaunch(ctx, d)
		if err != nil {
			w.sendHeartbeat(ctx, model.HeartbeatFailed, 0, "")
			telemetry.DeploymentsTerminatedTotal.WithLabelValues("relaunch_failed").Inc()
		} else {
			ev := model.NewHeartbeat(newDep, model.HeartbeatProvisioning, 50)
			ev.OldProviderInstanceID = d.ProviderInstanceID
			if err := w.orchestrator.SendHeartbeat(ctx, ev); err != nil {
				w.logger.Warn("watchdog: provisioning heartbeat failed", "deployment_id", newDep.DeploymentID, "error", err)
			}
			w.launcher.Spawn(newDep)
			telemetry.RelaunchesTotal.Inc()
			telemetry.DeploymentsTerminatedTotal.WithLabelValues("relaunched").Inc()
		}

	default:
		w.sendHeartbeat(ctx, model.HeartbeatTerminated, 0, "")
		alreadyTerminated = true
		telemetry.DeploymentsTerminatedTotal.WithLabelValues("retired").Inc()
	}

	// Final terminated heartbeat for the original provider_instance_id,
	// closing the record. Skipped when the branch above already sent it, so
	// no provider_instance_id ever receives two terminated events.
	if !alreadyTerminated {
		w.sendHeartbeat(ctx, model.HeartbeatTerminated, 0, "")
	}
	w.launcher.MarkTerminated(d.DeploymentID)
}

func (w *Watchdog) sendHeartbeat(ctx context.Context, state model.HeartbeatState, healthScore int, oldID string) {
	ev := model.NewHeartbeat(w.deployment, state, healthScore)
	if oldID != "" {
		ev.OldProviderInstanceID = oldID
	}
	if err := w.orchestrator.SendHeartbeat(ctx, ev); err != nil {
		w.logger.Warn("watchdog: heartbeat failed", "deployment_id", w.deployment.DeploymentID, "state", state, "error", err)
		return
	}
	telemetry.HeartbeatsSentTotal.WithLabelValues(string(state)).Inc()
}

// MarkUserStopped records that this deployment was stopped by user request,
// suppressing re-launch on the next terminal observation (spec.md §4.4
// Cancellation). Must be set synchronously, before the external stop call.
func (w *Watchdog) MarkUserStopped() {
	w.deployment.UserStopped = true
}
