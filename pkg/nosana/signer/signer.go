// Package signer implements AuthSigner (C2): producing the
// "message:signature" token the Network and individual nodes accept as
// authentication, either by signing locally with an ed25519 key or by
// delegating to the Network's signing endpoint with a Redis-backed cache.
package signer

import (
	"context"

	"github.com/InferiaAI/depin-sidecar/pkg/nosana/model"
)

// Signer produces an authenticated token for an arbitrary message.
type Signer interface {
	Sign(ctx context.Context, message string) (model.SignedToken, error)
	// Invalidate drops any cached signature for message, forcing the next
	// Sign to refetch. A no-op for LocalSigner.
	Invalidate(ctx context.Context, message string)
}
