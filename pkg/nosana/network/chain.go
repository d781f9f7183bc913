package network

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/tidwall/gjson"

	"github.com/InferiaAI/depin-sidecar/pkg/nosana/model"
)

// ChainGateway is the local-mode Gateway (spec.md §4.3): job-listing and
// job-state queries go straight to the chain via JSON-RPC. The ed25519 key
// held client-side is used only to derive the base58 wallet address, which
// is sent as a plain parameter of the RPC calls that need an owner or payer;
// no request or transaction is signed here. There is no Solana SDK in the
// dependency set this sidecar draws from, so each operation is a single
// JSON-RPC method call with JSON params.
type ChainGateway struct {
	rpc         *httpDoer
	contentDoer *httpDoer
	priv        ed25519.PrivateKey
	pub         string // base58 public key, i.e. this node's wallet address
}

// NewChainGateway builds a local-mode gateway against a Solana-style JSON-RPC
// endpoint, deriving the wallet address from priv. contentStoreURL serves the
// content-addressed artifact store used for PinArtifact/FetchArtifact.
func NewChainGateway(rpcURL, contentStoreURL string, priv ed25519.PrivateKey) *ChainGateway {
	return &ChainGateway{
		rpc:         newHTTPDoer(rpcURL, ""),
		contentDoer: newHTTPDoer(contentStoreURL, ""),
		priv:        priv,
		pub:         base58.Encode(priv.Public().(ed25519.PublicKey)),
	}
}

// rpcCall wraps one JSON-RPC 2.0 request in the same retry-on-429 envelope
// REST calls use; most chain RPC providers rate-limit identically to a REST
// API.
func (g *ChainGateway) rpcCall(ctx context.Context, retryable bool, method string, params ...any) ([]byte, error) {
	attempt := 0
	return withRetryMode(ctx, retryable, "chain", func() ([]byte, error) {
		attempt++
		reqBody := map[string]any{
			"jsonrpc": "2.0",
			"id":      attempt,
			"method":  method,
			"params":  params,
		}
		status, body, err := g.rpc.do(ctx, "POST", "/", reqBody)
		if err != nil {
			return nil, err
		}
		if cerr := classify(status, body, attempt); cerr != nil {
			return nil, cerr
		}
		if errMsg := gjson.GetBytes(body, "error.message"); errMsg.Exists() {
			return nil, &model.Remote{Status: status, Body: errMsg.String()}
		}
		return body, nil
	})
}

func (g *ChainGateway) CreateDeployment(ctx context.Context, name, market string, jobDefinition []byte, replicas, timeoutMinutes int, strategy model.Strategy, confidential bool) (string, error) {
	contentHash, err := g.PinArtifact(ctx, jobDefinition)
	if err != nil {
		return "", fmt.Errorf("pinning job definition: %w", err)
	}
	body, err := g.rpcCall(ctx, false, "sendJobListingTransaction", map[string]any{
		"market":      market,
		"ipfsHash":    contentHash,
		"payer":       g.pub,
		"replicas":    replicas,
		"timeout":     timeoutMinutes * 60,
		"strategy":    strategy,
		"confidential": confidential,
	})
	if err != nil {
		return "", err
	}
	deploymentID := gjson.GetBytes(body, "result.accounts.0").String()
	if deploymentID == "" {
		return "", fmt.Errorf("network: on-chain create: no account in instruction result")
	}
	return deploymentID, nil
}

// StartDeployment is a no-op in local mode: the job-listing transaction in
// CreateDeployment already submits the job on-chain.
func (g *ChainGateway) StartDeployment(ctx context.Context, deploymentID string) (model.DeploymentStatus, error) {
	return g.statusOf(ctx, deploymentID)
}

func (g *ChainGateway) GetDeployment(ctx context.Context, deploymentID string) (DeploymentSnapshot, error) {
	body, err := g.rpcCall(ctx, true, "getJobAccount", deploymentID)
	if err != nil {
		return DeploymentSnapshot{}, err
	}
	status := model.DeploymentStatus(gjson.GetBytes(body, "result.state").String())
	var endpoints []string
	if url := gjson.GetBytes(body, "result.exposeUrl").String(); url != "" {
		endpoints = append(endpoints, url)
	}
	return DeploymentSnapshot{Status: status, Endpoints: endpoints, RawBody: body}, nil
}

func (g *ChainGateway) statusOf(ctx context.Context, deploymentID string) (model.DeploymentStatus, error) {
	snap, err := g.GetDeployment(ctx, deploymentID)
	if err != nil {
		return "", err
	}
	return snap.Status, nil
}

func (g *ChainGateway) StopDeployment(ctx context.Context, deploymentID string) (model.DeploymentStatus, error) {
	_, err := g.rpcCall(ctx, false, "sendStopJobTransaction", deploymentID, g.pub)
	if err != nil {
		return "", err
	}
	return g.statusOf(ctx, deploymentID)
}

// UpdateDeploymentTimeout has no on-chain equivalent; local mode always
// falls back to per-job ExtendJob (spec.md §4.2).
func (g *ChainGateway) UpdateDeploymentTimeout(ctx context.Context, deploymentID string, minutes int) (int, error) {
	return 0, ErrUnsupported
}

func (g *ChainGateway) ListDeploymentJobs(ctx context.Context, deploymentID string, state model.JobState) ([]model.Job, error) {
	body, err := g.rpcCall(ctx, true, "getJobsForDeployment", deploymentID)
	if err != nil {
		return nil, err
	}
	var jobs []model.Job
	for _, j := range gjson.GetBytes(body, "result").Array() {
		jobState := model.JobState(j.Get("state").String())
		if state != "" && jobState != state {
			continue
		}
		jobs = append(jobs, model.Job{Address: j.Get("job").String(), State: jobState})
	}
	return jobs, nil
}

func (g *ChainGateway) GetDeploymentJob(ctx context.Context, deploymentID, jobAddress string) (JobDetail, error) {
	body, err := g.rpcCall(ctx, true, "getJobAccount", jobAddress)
	if err != nil {
		return JobDetail{}, err
	}
	return JobDetail{
		Address:     jobAddress,
		State:       model.JobState(gjson.GetBytes(body, "result.state").String()),
		NodeAddress: gjson.GetBytes(body, "result.node").String(),
	}, nil
}

func (g *ChainGateway) StopJob(ctx context.Context, jobAddress string) error {
	_, err := g.rpcCall(ctx, false, "sendStopJobTransaction", jobAddress, g.pub)
	return err
}

func (g *ChainGateway) ExtendJob(ctx context.Context, jobAddress string, seconds int) error {
	_, err := g.rpcCall(ctx, false, "sendExtendJobTransaction", jobAddress, g.pub, seconds)
	return err
}

func (g *ChainGateway) GetJobState(ctx context.Context, jobAddress string) (JobDetail, error) {
	return g.GetDeploymentJob(ctx, "", jobAddress)
}

func (g *ChainGateway) GetJobLogs(ctx context.Context, jobAddress string) ([]byte, error) {
	body, err := g.rpcCall(ctx, true, "getJobResult", jobAddress)
	if err != nil {
		return nil, err
	}
	return []byte(gjson.GetBytes(body, "result").Raw), nil
}

func (g *ChainGateway) GetBalance(ctx context.Context) (Balance, error) {
	body, err := g.rpcCall(ctx, true, "getBalance", g.pub)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		SOL: gjson.GetBytes(body, "result.sol").Float(),
		NOS: gjson.GetBytes(body, "result.nos").Float(),
	}, nil
}

func (g *ChainGateway) PinArtifact(ctx context.Context, jobDefinition []byte) (string, error) {
	attempt := 0
	body, err := withRetryMode(ctx, true, "chain", func() ([]byte, error) {
		attempt++
		status, respBody, err := g.contentDoer.do(ctx, "POST", "/pin", gjson.ParseBytes(jobDefinition).Value())
		if err != nil {
			return nil, err
		}
		if cerr := classify(status, respBody, attempt); cerr != nil {
			return nil, cerr
		}
		return respBody, nil
	})
	if err != nil {
		return "", err
	}
	hash := gjson.GetBytes(body, "hash").String()
	if hash == "" {
		return "", fmt.Errorf("network: pin artifact: no hash in response")
	}
	return hash, nil
}

func (g *ChainGateway) FetchArtifact(ctx context.Context, contentHash string) ([]byte, error) {
	attempt := 0
	return withRetryMode(ctx, true, "chain", func() ([]byte, error) {
		attempt++
		status, body, err := g.contentDoer.do(ctx, "GET", "/fetch/"+contentHash, nil)
		if err != nil {
			return nil, err
		}
		if cerr := classify(status, body, attempt); cerr != nil {
			return nil, cerr
		}
		return body, nil
	})
}

// ListOwnedDeployments implements ProviderClient Recovery (spec.md §4.4),
// querying the chain for jobs owned by this node's wallet.
func (g *ChainGateway) ListOwnedDeployments(ctx context.Context) ([]string, error) {
	body, err := g.rpcCall(ctx, true, "getJobsForOwner", g.pub)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, d := range gjson.GetBytes(body, "result").Array() {
		state := model.DeploymentStatus(d.Get("state").String())
		if state != model.StatusRunning && state != model.StatusStarting {
			continue
		}
		ids = append(ids, d.Get("id").String())
	}
	return ids, nil
}

var _ Gateway = (*ChainGateway)(nil)
