// Package reconciler implements C5: CredentialReconciler. It polls the
// orchestrator for the desired credential set and converges the registry
// without disrupting clients whose credentials are unchanged.
package reconciler

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/InferiaAI/depin-sidecar/internal/telemetry"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/model"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/orchestrator"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/provider"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/registry"
)

// PollInterval is the reconciler tick cadence (spec.md §4.5).
const PollInterval = 10 * time.Second

// Builder constructs a ProviderClient for one credential (initNosanaService
// in spec.md terms) and recovers any in-flight deployments it owns.
type Builder func(ctx context.Context, cred model.Credential) (*provider.Client, error)

// Reconciler owns the registry and drives convergence on a timer.
type Reconciler struct {
	reg          *registry.Registry[*provider.Client]
	orchestrator *orchestrator.Client
	build        Builder
	logger       *slog.Logger

	fingerprints map[string]string
}

// New builds a Reconciler writing into reg.
func New(reg *registry.Registry[*provider.Client], orch *orchestrator.Client, build Builder, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		reg:          reg,
		orchestrator: orch,
		build:        build,
		logger:       logger,
		fingerprints: make(map[string]string),
	}
}

// Run ticks every PollInterval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	r.tick(ctx)
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// tick runs exactly one reconciliation pass (spec.md §4.5 steps 1-6).
func (r *Reconciler) tick(ctx context.Context) {
	snap, err := r.orchestrator.FetchCredentials(ctx)
	if err != nil {
		r.logger.Warn("reconciler: credential poll failed, aborting this tick", "error", err)
		telemetry.ReconcilerTicksTotal.WithLabelValues("poll_failed").Inc()
		return
	}

	desired := buildDesired(snap, r.logger)

	for _, name := range r.reg.Names() {
		if _, ok := desired[name]; ok {
			continue
		}
		client, ok := r.reg.Get(name)
		if ok {
			affected := client.WatchedDeploymentIDs()
			for _, id := range affected {
				client.MarkUserStopped(id)
			}
			if len(affected) > 0 {
				r.logger.Warn("reconciler: removing credential with in-flight deployments, marked no-redeploy",
					"credential", name, "deployments", affected)
			}
		}
		r.reg.Remove(name)
		delete(r.fingerprints, name)
	}

	for name, cred := range desired {
		existingFP, hadClient := r.fingerprints[name]
		newFP := cred.Fingerprint()
		if hadClient && existingFP == newFP {
			continue
		}

		client, err := r.build(ctx, cred)
		if err != nil {
			r.logger.Error("reconciler: failed to build client, keeping previous", "credential", name, "error", err)
			continue
		}
		r.reg.Set(name, client, name == "default")
		r.fingerprints[name] = newFP
	}

	names := r.reg.Names()
	if !r.reg.HasDefault() && len(names) > 0 {
		r.reg.PromoteDefault(names[0])
		r.logger.Info("reconciler: promoted credential to default", "credential", names[0])
	}

	telemetry.ActiveCredentialsGauge.Set(float64(len(names)))
	telemetry.ReconcilerTicksTotal.WithLabelValues("ok").Inc()
}

// buildDesired implements spec.md §4.5 step 2.
func buildDesired(snap orchestrator.CredentialSnapshot, logger *slog.Logger) map[string]model.Credential {
	desired := make(map[string]model.Credential)

	if snap.Legacy != nil {
		desired["default"] = model.Credential{
			Name:       "default",
			PrivateKey: snap.Legacy.PrivateKey,
			APIKey:     snap.Legacy.APIKey,
			Active:     true,
		}
	}

	for _, e := range snap.Entries {
		if !e.Active {
			continue
		}
		name := strings.TrimSpace(e.Name)
		if name == "" {
			logger.Warn("reconciler: skipping credential with empty name")
			continue
		}
		if _, exists := desired[name]; exists {
			logger.Warn("reconciler: skipping duplicate credential name", "credential", name)
			continue
		}
		desired[name] = model.Credential{
			Name:       name,
			PrivateKey: e.PrivateKey,
			APIKey:     e.APIKey,
			Active:     e.Active,
		}
	}

	return desired
}
