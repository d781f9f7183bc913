// Package app wires the sidecar's components (C1-C7) into a running
// process: it builds one ProviderClient per credential, keeps them current
// with a CredentialReconciler, and serves the RouterSurface and LogBridge
// over HTTP. There is one mode — unlike a multi-mode service, this process
// always performs all of these roles.
package app

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mr-tron/base58"
	"github.com/redis/go-redis/v9"

	"github.com/InferiaAI/depin-sidecar/internal/audit"
	"github.com/InferiaAI/depin-sidecar/internal/config"
	"github.com/InferiaAI/depin-sidecar/internal/httpserver"
	"github.com/InferiaAI/depin-sidecar/internal/platform"
	"github.com/InferiaAI/depin-sidecar/internal/telemetry"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/logbridge"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/model"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/network"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/orchestrator"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/provider"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/reconciler"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/registry"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/router"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/signer"
)

// Run is the sidecar's entry point: load config, wire every component, and
// serve until ctx is cancelled. Process loss is the only shutdown signal
// this sidecar is designed around (spec.md §5) — there is no persisted
// state to flush, so Shutdown only needs to stop accepting new connections,
// never to emit re-launch actions.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting depin sidecar", "listen", cfg.ListenAddr())

	// Redis is optional: it only backs the delegated AuthSigner's signature
	// cache (spec.md §4.1). Without it the delegated signer does not cache and
	// fetches a fresh signature on every Sign call; startup does not fail.
	rdbClient, err := newOptionalRedis(ctx, cfg.RedisURL, logger)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	if rdbClient != nil {
		defer func() {
			if err := rdbClient.Close(); err != nil {
				logger.Error("closing redis", "error", err)
			}
		}()
	}

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	orch := orchestrator.New(cfg.APIGatewayURL, cfg.OrchestratorURL, cfg.InternalAPIKey, logger)

	auditWriter := audit.NewWriter(orch, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	reg := registry.New[*provider.Client]()

	build := newClientBuilder(cfg, orch, auditWriter, rdbClient, logger)
	rec := reconciler.New(reg, orch, build, logger)
	go rec.Run(ctx)

	srv := httpserver.NewServer(cfg, logger, rdbClient, metricsReg, reg.Names)

	routerHandler := router.NewHandler(reg, logger)
	srv.Router.Mount("/nosana", routerHandler.Routes())

	logBridge := logbridge.New(reg, logger)
	srv.Router.Get("/nosana/logs/stream", logBridge.ServeHTTP)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("sidecar listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down sidecar")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// newClientBuilder returns the reconciler.Builder that turns one credential
// into a ProviderClient: a NetworkGateway and AuthSigner selected by
// Credential.Mode(), recovering any deployments the Network reports as
// already owned by this credential (spec.md §4.4 Recovery).
func newClientBuilder(cfg *config.Config, orch *orchestrator.Client, auditor *audit.Writer, rdb *redis.Client, logger *slog.Logger) reconciler.Builder {
	return func(ctx context.Context, cred model.Credential) (*provider.Client, error) {
		var gw network.Gateway
		var sg signer.Signer

		switch cred.Mode() {
		case model.ModeLocal:
			priv, address, err := decodeEd25519Seed(cred.PrivateKey)
			if err != nil {
				return nil, fmt.Errorf("decoding local key for credential %q: %w", cred.Name, err)
			}
			gw = network.NewChainGateway(cfg.SolanaRPCURL, cfg.NosanaAPIURL, priv)
			sg = signer.NewLocalSigner(priv, address)
		default:
			gw = network.NewRESTGateway(cfg.NosanaAPIURL, cred.APIKey)
			sg = signer.NewDelegatedSigner(cfg.NosanaAPIURL, cred.APIKey, rdb, logger)
		}

		client := provider.New(cred.Name, gw, sg, cfg.NosanaIngressDomain, orch, auditor, logger)

		owned, err := gw.ListOwnedDeployments(ctx)
		if err != nil {
			logger.Warn("provider: recovery lookup failed, starting with no recovered deployments", "credential", cred.Name, "error", err)
			return client, nil
		}
		client.Recover(ctx, owned)

		return client, nil
	}
}

// decodeEd25519Seed decodes a credential's PrivateKey, tried as base58 then
// hex, and derives the wallet address from the resulting key (spec.md §4.1
// local mode).
func decodeEd25519Seed(raw string) (ed25519.PrivateKey, string, error) {
	seed, err := base58.Decode(raw)
	if err != nil || len(seed) != ed25519.SeedSize {
		seed, err = hex.DecodeString(raw)
		if err != nil || len(seed) != ed25519.SeedSize {
			return nil, "", fmt.Errorf("private key must be a base58 or hex-encoded %d-byte ed25519 seed", ed25519.SeedSize)
		}
	}
	priv := ed25519.NewKeyFromSeed(seed)
	address := base58.Encode(priv.Public().(ed25519.PublicKey))
	return priv, address, nil
}

// newOptionalRedis connects to Redis only if redisURL is set, logging and
// returning nil (signature caching disabled) otherwise.
func newOptionalRedis(ctx context.Context, redisURL string, logger *slog.Logger) (*redis.Client, error) {
	if redisURL == "" {
		logger.Info("signature cache: redis disabled (REDIS_URL not set)")
		return nil, nil
	}
	rdb, err := platform.NewRedisClient(ctx, redisURL)
	if err != nil {
		return nil, err
	}
	return rdb, nil
}
