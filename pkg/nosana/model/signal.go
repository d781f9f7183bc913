package model

import "time"

// SignedToken is a cached delegated-signing result. Cache hit requires exact
// Message match and !Expired(now), i.e. an age below TokenTTL.
type SignedToken struct {
	Message     string
	Signature   string
	UserAddress string
	IssuedAt    time.Time
}

// TokenTTL is the lifetime of a cached SignedToken.
const TokenTTL = 5 * time.Minute

// Expired reports whether this token is older than TokenTTL as of now.
func (t SignedToken) Expired(now time.Time) bool {
	return now.Sub(t.IssuedAt) >= TokenTTL
}

// AuthHeader renders the "MESSAGE:SIGNATURE" node-auth token.
func (t SignedToken) AuthHeader() string {
	return t.Message + ":" + t.Signature
}

// HeartbeatState is the provider-instance health state sent to the
// orchestrator.
type HeartbeatState string

const (
	HeartbeatProvisioning HeartbeatState = "provisioning"
	HeartbeatReady        HeartbeatState = "ready"
	HeartbeatFailed       HeartbeatState = "failed"
	HeartbeatTerminated   HeartbeatState = "terminated"
)

// HeartbeatEvent is posted to the orchestrator's /inventory/heartbeat.
type HeartbeatEvent struct {
	Provider            string         `json:"provider"`
	ProviderInstanceID   string         `json:"providerInstanceId"`
	DeploymentID        string         `json:"deploymentId,omitempty"`
	GPUAllocated        string         `json:"gpuAllocated,omitempty"`
	VCPUAllocated       int            `json:"vcpuAllocated,omitempty"`
	RAMGbAllocated      int            `json:"ramGbAllocated,omitempty"`
	HealthScore         int            `json:"healthScore"`
	State               HeartbeatState `json:"state"`
	ExposeURL           string         `json:"exposeUrl,omitempty"`
	OldProviderInstanceID string       `json:"old_provider_instance_id,omitempty"`
}

// NewHeartbeat builds the base heartbeat for a watched deployment, filling
// the allocated-resource fields from its Resources.
func NewHeartbeat(d *Deployment, state HeartbeatState, healthScore int) HeartbeatEvent {
	return HeartbeatEvent{
		Provider:           "nosana",
		ProviderInstanceID: d.ProviderInstanceID,
		DeploymentID:       d.DeploymentID,
		GPUAllocated:       d.Resources.GPU,
		VCPUAllocated:      d.Resources.VCPU,
		RAMGbAllocated:     d.Resources.RAMGb,
		HealthScore:        healthScore,
		State:              state,
	}
}
