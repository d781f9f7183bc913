// Package network is the typed facade over the Nosana Network (C1): REST in
// delegated mode, on-chain RPC in local mode. Every call may fail with
// *model.RateLimited, *model.Transport, or *model.Remote; retries apply the
// exponential-backoff-on-429 policy from spec.md §4.2.
package network

import (
	"context"

	"github.com/InferiaAI/depin-sidecar/pkg/nosana/model"
)

// DeploymentSnapshot is a single GetDeployment observation.
type DeploymentSnapshot struct {
	Status     model.DeploymentStatus
	Endpoints  []string
	RawBody    []byte
}

// ServiceURL returns the first exposed endpoint URL, if any.
func (s DeploymentSnapshot) ServiceURL() string {
	if len(s.Endpoints) == 0 {
		return ""
	}
	return s.Endpoints[0]
}

// JobDetail is a single GetDeploymentJob observation.
type JobDetail struct {
	Address string
	State   model.JobState
	NodeAddress string
}

// Balance reports account funds. Delegated-mode gateways populate the
// credit fields; local-mode gateways populate SOL/NOS.
type Balance struct {
	AssignedCredits float64
	ReservedCredits float64
	SettledCredits  float64
	SOL             float64
	NOS             float64
}

// ErrUnsupported is returned by UpdateDeploymentTimeout when the gateway
// (or the Network) has no timeout-extension endpoint, signalling the
// watchdog to fall back to the per-job ExtendJob path.
var ErrUnsupported = &unsupportedErr{}

type unsupportedErr struct{}

func (*unsupportedErr) Error() string { return "operation unsupported by this gateway" }

// Gateway is the abstract contract both the delegated (REST) and local
// (on-chain) implementations satisfy. ProviderClient depends only on this
// interface, never on a concrete transport.
type Gateway interface {
	CreateDeployment(ctx context.Context, name, market string, jobDefinition []byte, replicas, timeoutMinutes int, strategy model.Strategy, confidential bool) (deploymentID string, err error)
	StartDeployment(ctx context.Context, deploymentID string) (model.DeploymentStatus, error)
	GetDeployment(ctx context.Context, deploymentID string) (DeploymentSnapshot, error)
	StopDeployment(ctx context.Context, deploymentID string) (model.DeploymentStatus, error)
	UpdateDeploymentTimeout(ctx context.Context, deploymentID string, minutes int) (int, error)
	ListDeploymentJobs(ctx context.Context, deploymentID string, state model.JobState) ([]model.Job, error)
	GetDeploymentJob(ctx context.Context, deploymentID, jobAddress string) (JobDetail, error)
	StopJob(ctx context.Context, jobAddress string) error
	ExtendJob(ctx context.Context, jobAddress string, seconds int) error

	// GetJobState is the LogBridge's standalone job lookup (spec.md §4.6),
	// independent of any owning deployment.
	GetJobState(ctx context.Context, jobAddress string) (JobDetail, error)
	// GetJobLogs fetches the historical result archive for a terminated job,
	// as a raw untyped document (spec.md §9 "Dynamic untyped payloads").
	GetJobLogs(ctx context.Context, jobAddress string) ([]byte, error)

	GetBalance(ctx context.Context) (Balance, error)
	PinArtifact(ctx context.Context, jobDefinition []byte) (contentHash string, err error)
	FetchArtifact(ctx context.Context, contentHash string) ([]byte, error)

	// ListOwnedDeployments returns the deploymentIds for this credential's
	// RUNNING or STARTING deployments, used by ProviderClient.Recover on
	// startup (spec.md §4.4 Recovery).
	ListOwnedDeployments(ctx context.Context) ([]string, error)
}
