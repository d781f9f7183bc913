package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/InferiaAI/depin-sidecar/pkg/nosana/model"
)

const redisKeyPrefix = "nosana:sigcache:"

// DelegatedSigner calls the Network's POST /auth/sign-message/external
// endpoint and caches the result in Redis for model.TokenTTL, following the
// same Redis-as-fast-cache shape as the teacher's alert deduplicator. A
// singleflight group collapses concurrent signings of the same message into
// one outbound call.
type DelegatedSigner struct {
	client  *http.Client
	baseURL string
	apiKey  string
	rdb     *redis.Client
	logger  *slog.Logger
	group   singleflight.Group
}

// NewDelegatedSigner builds a signer backed by the Network REST endpoint at
// baseURL, authenticated with apiKey, cached in rdb.
func NewDelegatedSigner(baseURL, apiKey string, rdb *redis.Client, logger *slog.Logger) *DelegatedSigner {
	return &DelegatedSigner{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: baseURL,
		apiKey:  apiKey,
		rdb:     rdb,
		logger:  logger,
	}
}

func redisKey(message string) string {
	return redisKeyPrefix + message
}

func (s *DelegatedSigner) Sign(ctx context.Context, message string) (model.SignedToken, error) {
	if cached, ok := s.cacheGet(ctx, message); ok {
		return cached, nil
	}

	v, err, _ := s.group.Do(message, func() (any, error) {
		return s.fetch(ctx, message)
	})
	if err != nil {
		return model.SignedToken{}, err
	}
	token := v.(model.SignedToken)
	s.cacheSet(ctx, token)
	return token, nil
}

func (s *DelegatedSigner) Invalidate(ctx context.Context, message string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, redisKey(message)).Err(); err != nil {
		s.logger.Warn("signer: failed to invalidate cached signature", "error", err)
	}
}

func (s *DelegatedSigner) cacheGet(ctx context.Context, message string) (model.SignedToken, bool) {
	if s.rdb == nil {
		return model.SignedToken{}, false
	}
	raw, err := s.rdb.Get(ctx, redisKey(message)).Result()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("signer: redis cache lookup failed", "error", err)
		}
		return model.SignedToken{}, false
	}
	var token model.SignedToken
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		s.logger.Warn("signer: invalid cached token", "error", err)
		return model.SignedToken{}, false
	}
	if token.Expired(time.Now()) {
		return model.SignedToken{}, false
	}
	return token, true
}

func (s *DelegatedSigner) cacheSet(ctx context.Context, token model.SignedToken) {
	if s.rdb == nil {
		return
	}
	raw, err := json.Marshal(token)
	if err != nil {
		s.logger.Warn("signer: failed to marshal token for cache", "error", err)
		return
	}
	if err := s.rdb.Set(ctx, redisKey(token.Message), raw, model.TokenTTL).Err(); err != nil {
		s.logger.Warn("signer: failed to cache token", "error", err)
	}
}

// fetch calls the Network's delegated signing endpoint. It never retries
// internally (spec.md §4.1 applies the 429-retry budget only to
// NetworkGateway calls) — callers get exactly one AuthRejected/AuthUnavailable
// per invocation.
func (s *DelegatedSigner) fetch(ctx context.Context, message string) (model.SignedToken, error) {
	reqBody, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return model.SignedToken{}, fmt.Errorf("signer: marshalling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/auth/sign-message/external", bytes.NewReader(reqBody))
	if err != nil {
		return model.SignedToken{}, fmt.Errorf("signer: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return model.SignedToken{}, &model.AuthUnavailable{Reason: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.SignedToken{}, &model.AuthUnavailable{Reason: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.SignedToken{}, &model.AuthRejected{Status: resp.StatusCode, Body: string(body)}
	}

	var payload struct {
		Signature   string `json:"signature"`
		Message     string `json:"message"`
		UserAddress string `json:"userAddress"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return model.SignedToken{}, fmt.Errorf("signer: decoding response: %w", err)
	}
	return model.SignedToken{
		Message:     payload.Message,
		Signature:   payload.Signature,
		UserAddress: payload.UserAddress,
		IssuedAt:    time.Now(),
	}, nil
}

var _ Signer = (*DelegatedSigner)(nil)
