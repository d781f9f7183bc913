// Package model holds the data types shared across the sidecar: credentials,
// watched deployments, Network job/deployment state, and the heartbeat and
// signed-token shapes exchanged with the orchestrator and the Network.
package model

import (
	"crypto/sha256"
	"encoding/hex"
)

// Credential is a named authentication material that grants access to the
// Network under one identity. Identity is Name; equivalence (for reconciler
// diffing) is Fingerprint(), the hash of (PrivateKey, APIKey).
type Credential struct {
	Name       string
	PrivateKey string // secret; base58 or hex-encoded ed25519 seed, local mode
	APIKey     string // secret, delegated mode
	Active     bool
}

// Mode reports which AuthSigner/NetworkGateway mode this credential implies.
// A credential with a PrivateKey runs in local mode; otherwise delegated.
func (c Credential) Mode() SigningMode {
	if c.PrivateKey != "" {
		return ModeLocal
	}
	return ModeDelegated
}

// Valid reports whether the credential carries at least one secret, as
// required for any active credential.
func (c Credential) Valid() bool {
	return c.PrivateKey != "" || c.APIKey != ""
}

// Fingerprint hashes the credential's secret material so the reconciler can
// detect rotation without comparing or logging the secrets themselves.
func (c Credential) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(c.PrivateKey))
	h.Write([]byte{0})
	h.Write([]byte(c.APIKey))
	return hex.EncodeToString(h.Sum(nil))
}

// SigningMode selects how a ProviderClient authenticates to the Network.
type SigningMode int

const (
	ModeDelegated SigningMode = iota
	ModeLocal
)

func (m SigningMode) String() string {
	if m == ModeLocal {
		return "local"
	}
	return "delegated"
}
