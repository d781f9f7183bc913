package model

import "time"

// Strategy selects how the Network rotates jobs underneath a deployment.
type Strategy string

const (
	StrategySimple       Strategy = "SIMPLE"
	StrategySimpleExtend Strategy = "SIMPLE-EXTEND"
	StrategyScheduled    Strategy = "SCHEDULED"
	StrategyInfinite     Strategy = "INFINITE"
)

// JobState is the opaque enum reflecting Network state of a single job.
type JobState string

const (
	JobQueued    JobState = "QUEUED"
	JobRunning   JobState = "RUNNING"
	JobCompleted JobState = "COMPLETED"
	JobStopped   JobState = "STOPPED"
	JobCancelled JobState = "CANCELLED"
)

// Terminal reports whether this job state is one of the terminal states.
func (s JobState) Terminal() bool {
	switch s {
	case JobCompleted, JobStopped, JobCancelled:
		return true
	default:
		return false
	}
}

// DeploymentStatus is the Network-side deployment lifecycle state.
type DeploymentStatus string

const (
	StatusDraft             DeploymentStatus = "DRAFT"
	StatusStarting          DeploymentStatus = "STARTING"
	StatusRunning           DeploymentStatus = "RUNNING"
	StatusStopping          DeploymentStatus = "STOPPING"
	StatusStopped           DeploymentStatus = "STOPPED"
	StatusError             DeploymentStatus = "ERROR"
	StatusInsufficientFunds DeploymentStatus = "INSUFFICIENT_FUNDS"
	StatusArchived          DeploymentStatus = "ARCHIVED"
)

// Terminal reports whether this deployment status is one of the terminal
// states the watchdog's termination policy fires on.
func (s DeploymentStatus) Terminal() bool {
	switch s {
	case StatusStopped, StatusError, StatusArchived, StatusInsufficientFunds:
		return true
	default:
		return false
	}
}

// Resources describes the compute shape requested for a deployment.
type Resources struct {
	GPU  string
	VCPU int
	RAMGb int
}

// Job is a single Network job observation, as returned by ListDeploymentJobs.
type Job struct {
	Address string
	State   JobState
}

// Deployment is the in-memory record a ProviderClient's watchdog owns for
// one live deployment. Identity is DeploymentID. JobAddresses may change as
// the Network rotates underlying jobs under SIMPLE-EXTEND.
type Deployment struct {
	DeploymentID   string
	JobAddresses   []string
	StartTime      time.Time
	LastExtendTime time.Time
	LastHeartbeat  time.Time

	// JobDefinition is the raw, untyped job-definition document the caller
	// submitted. Recovered deployments hold a nil definition, which disables
	// re-launch (spec.md §4.4 Recovery).
	JobDefinition []byte
	MarketAddress string
	Confidential  bool
	Strategy      Strategy
	Resources     Resources

	UserStopped   bool
	ServiceURL    string
	CredentialName string

	// LastStatus is the last DeploymentStatus observed, used to detect
	// transitions for the DEPLOYMENT_STATUS_CHANGED audit event.
	LastStatus DeploymentStatus

	// ProviderInstanceID identifies this deployment in heartbeat events; it
	// is stable for the lifetime of one watchdog (a re-launch gets a new
	// deployment, hence a new ProviderInstanceID).
	ProviderInstanceID string
}

// Snapshot returns a value copy safe to hand to a reader (WebSocket log
// bridge, HTTP get handler) without holding the owning client's lock.
func (d *Deployment) Snapshot() Deployment {
	cp := *d
	cp.JobAddresses = append([]string(nil), d.JobAddresses...)
	return cp
}
