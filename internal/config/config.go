// Package config loads the sidecar's runtime configuration from environment
// variables (spec.md §6 Environment).
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration, loaded from environment
// variables.
type Config struct {
	Host string `env:"SIDECAR_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"PORT" envDefault:"8080"`

	APIGatewayURL       string `env:"API_GATEWAY_URL,required"`
	OrchestratorURL     string `env:"ORCHESTRATOR_URL,required"`
	InternalAPIKey      string `env:"INTERNAL_API_KEY,required"`
	NosanaAPIURL        string `env:"NOSANA_API_URL" envDefault:"https://api.nosana.io"`
	NosanaIngressDomain string `env:"NOSANA_INGRESS_DOMAIN" envDefault:"node.nosana.io"`
	SolanaRPCURL        string `env:"SOLANA_RPC_URL" envDefault:"https://api.mainnet-beta.solana.com"`

	// RedisURL backs the delegated AuthSigner's signature cache. Optional:
	// empty runs the signer with caching disabled instead of failing
	// startup.
	RedisURL string `env:"REDIS_URL"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	return cfg, nil
}

// ListenAddr returns the address the HTTP server should listen on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
