package model

import "fmt"

// RateLimited is returned by a NetworkGateway call that received a 429.
type RateLimited struct {
	Attempt int
}

func (e *RateLimited) Error() string {
	return fmt.Sprintf("network: rate limited (attempt %d)", e.Attempt)
}

// Transport is returned for connection-level failures (dial/read/reset)
// that never produced an HTTP response.
type Transport struct {
	Err error
}

func (e *Transport) Error() string { return fmt.Sprintf("network: transport: %v", e.Err) }
func (e *Transport) Unwrap() error { return e.Err }

// Remote is returned for a Network response with a non-2xx, non-retried
// status.
type Remote struct {
	Status int
	Body   string
}

func (e *Remote) Error() string {
	return fmt.Sprintf("network: remote status %d: %s", e.Status, e.Body)
}

// AuthUnavailable means the signer has no usable key/endpoint configured.
type AuthUnavailable struct {
	Reason string
}

func (e *AuthUnavailable) Error() string { return "auth unavailable: " + e.Reason }

// AuthRejected wraps a non-2xx response from the delegated signing endpoint.
type AuthRejected struct {
	Status int
	Body   string
}

func (e *AuthRejected) Error() string {
	return fmt.Sprintf("auth rejected: status %d: %s", e.Status, e.Body)
}

// LaunchFailed is returned by ProviderClient.Launch for any failed launch
// step, including terminal Network states observed while waiting to reach
// RUNNING.
type LaunchFailed struct {
	Status DeploymentStatus
	Reason string
}

func (e *LaunchFailed) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("launch failed: status %s: %s", e.Status, e.Reason)
	}
	return "launch failed: " + e.Reason
}

// NotInitialized is returned when a request names a credential with no
// resolvable ProviderClient.
type NotInitialized struct {
	CredentialName string
}

func (e *NotInitialized) Error() string {
	if e.CredentialName == "" {
		return "no default credential initialized"
	}
	return fmt.Sprintf("credential %q not initialized", e.CredentialName)
}
