package signer

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/mr-tron/base58"

	"github.com/InferiaAI/depin-sidecar/pkg/nosana/model"
)

// LocalSigner signs messages with a decoded ed25519 private key held
// in-process. No network I/O, no cache (spec.md §4.1).
type LocalSigner struct {
	priv    ed25519.PrivateKey
	address string
}

// NewLocalSigner builds a signer over priv. address is the wallet address
// associated with this key, reported as SignedToken.UserAddress.
func NewLocalSigner(priv ed25519.PrivateKey, address string) *LocalSigner {
	return &LocalSigner{priv: priv, address: address}
}

func (s *LocalSigner) Sign(_ context.Context, message string) (model.SignedToken, error) {
	if len(s.priv) == 0 {
		return model.SignedToken{}, &model.AuthUnavailable{Reason: "no local key configured"}
	}
	sig := ed25519.Sign(s.priv, []byte(message))
	return model.SignedToken{
		Message:     message,
		Signature:   base58.Encode(sig),
		UserAddress: s.address,
		IssuedAt:    time.Now(),
	}, nil
}

// Invalidate is a no-op: a local signature is never stale.
func (s *LocalSigner) Invalidate(context.Context, string) {}

var _ Signer = (*LocalSigner)(nil)
