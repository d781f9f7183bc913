package router

import "encoding/json"

// launchRequest is the POST /nosana/jobs/launch body (spec.md §6).
// JobDefinition is kept as raw JSON (not []byte) so it decodes from — and is
// forwarded to the Network as — the literal object the caller submitted.
type launchRequest struct {
	JobDefinition      json.RawMessage `json:"jobDefinition" validate:"required"`
	MarketAddress      string          `json:"marketAddress" validate:"required"`
	ResourcesAllocated *struct {
		GPU   string `json:"gpu"`
		VCPU  int    `json:"vcpu"`
		RAMGb int    `json:"ramGb"`
	} `json:"resources_allocated,omitempty"`
	IsConfidential *bool  `json:"isConfidential,omitempty"`
	CredentialName string `json:"credentialName,omitempty"`
}

func (r launchRequest) confidential() bool {
	if r.IsConfidential == nil {
		return true
	}
	return *r.IsConfidential
}

type launchResponse struct {
	DeploymentID string `json:"deploymentId"`
	JobAddress   string `json:"jobAddress"`
	ServiceURL   string `json:"serviceUrl,omitempty"`
	Status       string `json:"status"`
}

// stopRequest is the POST /nosana/jobs/stop body (spec.md §6). jobAddress is
// the wire-level identifier; the router resolves it to a deploymentId
// before calling ProviderClient.Stop.
type stopRequest struct {
	JobAddress     string `json:"jobAddress" validate:"required"`
	CredentialName string `json:"credentialName,omitempty"`
}

type stopResponse struct {
	Status       string `json:"status"`
	DeploymentID string `json:"deploymentId"`
}

// jobResponse is the GET /nosana/jobs/:id body (spec.md §6).
type jobResponse struct {
	JobState     string   `json:"jobState"`
	ServiceURL   string   `json:"serviceUrl,omitempty"`
	Endpoints    []string `json:"endpoints,omitempty"`
	DeploymentID string   `json:"deploymentId"`
	JobAddresses []string `json:"jobAddresses,omitempty"`
	UserStopped  bool     `json:"userStopped"`
}

// logsResponse is the GET /nosana/jobs/:id/logs body (spec.md §6). Result is
// the raw untyped historical-logs document returned only once the job has
// reached a terminal state.
type logsResponse struct {
	Status string `json:"status"`
	Result any    `json:"result,omitempty"`
}

// balanceResponse is the GET /nosana/balance body (spec.md §6). All fields
// are always present; a delegated-mode gateway populates the credit fields
// and a local-mode gateway populates sol/nos, leaving the other set at zero.
type balanceResponse struct {
	SOL             float64 `json:"sol"`
	NOS             float64 `json:"nos"`
	AssignedCredits float64 `json:"assignedCredits"`
	ReservedCredits float64 `json:"reservedCredits"`
	SettledCredits  float64 `json:"settledCredits"`
}
