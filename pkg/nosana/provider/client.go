// Package provider implements C4: a ProviderClient owns one credential's
// NetworkGateway, AuthSigner, and the set of live Watchdogs launched or
// recovered under it.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/InferiaAI/depin-sidecar/internal/audit"
	"github.com/InferiaAI/depin-sidecar/internal/telemetry"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/model"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/network"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/orchestrator"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/signer"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/watchdog"
)

const (
	startPollInterval     = 10 * time.Second
	startTimeout          = 5 * time.Minute
	confidentialPollEvery = 3 * time.Second
	confidentialHorizon   = 10 * time.Minute
)

// Client is one credential's ProviderClient. WatchedDeployments is mutated
// only by this client's own Launch path and its own watchdogs (spec.md §5
// Shared mutable state); reads elsewhere take a Snapshot.
type Client struct {
	CredentialName string
	Gateway        network.Gateway
	Signer         signer.Signer
	IngressDomain  string

	orchestrator *orchestrator.Client
	auditor      *audit.Writer
	logger       *slog.Logger

	mu      sync.Mutex
	watched map[string]*model.Deployment
	cancels map[string]context.CancelFunc
}

var _ watchdog.Launcher = (*Client)(nil)

// New builds a ProviderClient for one credential.
func New(credentialName string, gw network.Gateway, sg signer.Signer, ingressDomain string, orch *orchestrator.Client, auditor *audit.Writer, logger *slog.Logger) *Client {
	return &Client{
		CredentialName: credentialName,
		Gateway:        gw,
		Signer:         sg,
		IngressDomain:  ingressDomain,
		orchestrator:   orch,
		auditor:        auditor,
		logger:         logger,
		watched:        make(map[string]*model.Deployment),
		cancels:        make(map[string]context.CancelFunc),
	}
}

// LaunchResult is returned to the router on a successful Launch.
type LaunchResult struct {
	DeploymentID string
	JobAddress   string
	ServiceURL   string
}

// Launch implements spec.md §4.3: create, start, poll to running, spawn a
// watchdog, and — for confidential deployments — a background handoff task.
func (c *Client) Launch(ctx context.Context, jobDefinition []byte, marketAddress string, confidential bool) (LaunchResult, error) {
	deploymentID, err := c.Gateway.CreateDeployment(ctx, "sidecar-"+uuid.NewString(), marketAddress, jobDefinition, 1, 60, model.StrategySimpleExtend, confidential)
	if err != nil {
		return LaunchResult{}, fmt.Errorf("%w", &model.LaunchFailed{Reason: err.Error()})
	}

	if _, err := c.Gateway.StartDeployment(ctx, deploymentID); err != nil {
		return LaunchResult{}, fmt.Errorf("%w", &model.LaunchFailed{Reason: err.Error()})
	}

	c.auditor.Log(orchestrator.AuditEvent{
		Action:       "DEPLOYMENT_LAUNCHED",
		ResourceType: "deployment",
		ResourceID:   deploymentID,
		Details: map[string]any{
			"deploymentId":  deploymentID,
			"marketAddress": marketAddress,
			"confidential":  confidential,
		},
		Status: "success",
	})

	status, serviceURL, jobAddress, err := c.pollUntilRunning(ctx, deploymentID)
	if err != nil {
		return LaunchResult{}, err
	}

	d := &model.Deployment{
		DeploymentID:       deploymentID,
		StartTime:          time.Now(),
		LastExtendTime:     time.Now(),
		JobDefinition:      jobDefinition,
		MarketAddress:      marketAddress,
		Confidential:       confidential,
		Strategy:           model.StrategySimpleExtend,
		ServiceURL:         serviceURL,
		CredentialName:     c.CredentialName,
		LastStatus:         status,
		ProviderInstanceID: deploymentID,
	}
	if jobAddress != "" {
		d.JobAddresses = []string{jobAddress}
	}

	c.track(d)
	c.Spawn(d)
	telemetry.DeploymentsLaunchedTotal.WithLabelValues(c.CredentialName).Inc()

	if confidential && jobAddress != "" {
		go c.confidentialHandoff(context.Background(), d, jobAddress)
	}

	return LaunchResult{DeploymentID: deploymentID, JobAddress: jobAddress, ServiceURL: serviceURL}, nil
}

// pollUntilRunning implements spec.md §4.3 step 3: poll every 10s until
// RUNNING or the 5-minute start-timeout elapses. Terminal failure statuses
// fail fast with LaunchFailed.
func (c *Client) pollUntilRunning(ctx context.Context, deploymentID string) (model.DeploymentStatus, string, string, error) {
	deadline := time.Now().Add(startTimeout)
	ticker := time.NewTicker(startPollInterval)
	defer ticker.Stop()

	for {
		snap, err := c.Gateway.GetDeployment(ctx, deploymentID)
		if err != nil {
			c.logger.Warn("provider: start-poll failed", "deployment_id", deploymentID, "error", err)
		} else {
			switch snap.Status {
			case model.StatusRunning:
				jobAddress := c.firstRunningJob(ctx, deploymentID)
				return snap.Status, snap.ServiceURL(), jobAddress, nil
			case model.StatusError, model.StatusStopped, model.StatusInsufficientFunds:
				return "", "", "", &model.LaunchFailed{Status: snap.Status, Reason: "terminal status while waiting for RUNNING"}
			}
		}

		if time.Now().After(deadline) {
			// Best-effort: deploymentId known, job address unknown; the
			// watchdog discovers it later (spec.md §4.3 step 3).
			return model.StatusStarting, "", "", nil
		}

		select {
		case <-ctx.Done():
			return "", "", "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) firstRunningJob(ctx context.Context, deploymentID string) string {
	jobs, err := c.Gateway.ListDeploymentJobs(ctx, deploymentID, model.JobRunning)
	if err != nil || len(jobs) == 0 {
		return ""
	}
	return jobs[0].Address
}

// confidentialHandoff implements spec.md §4.3 step 5: push the real job
// definition directly to the chosen node once its job is running.
func (c *Client) confidentialHandoff(ctx context.Context, d *model.Deployment, jobAddress string) {
	deadline := time.Now().Add(confidentialHorizon)
	ticker := time.NewTicker(confidentialPollEvery)
	defer ticker.Stop()

	var nodeAddress string
	for time.Now().Before(deadline) {
		detail, err := c.Gateway.GetDeploymentJob(ctx, d.DeploymentID, jobAddress)
		if err == nil {
			if detail.State.Terminal() {
				return
			}
			if detail.State == model.JobRunning && detail.NodeAddress != "" {
				nodeAddress = detail.NodeAddress
				break
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
	if nodeAddress == "" {
		c.logger.Warn("provider: confidential handoff timed out waiting for node", "deployment_id", d.DeploymentID)
		return
	}

	nodeURL := fmt.Sprintf("https://%s.%s/job/%s/job-definition", nodeAddress, c.IngressDomain, jobAddress)
	if err := c.postWithSignatureRetry(ctx, nodeURL, d.JobDefinition); err != nil {
		c.logger.Warn("provider: confidential handoff failed", "deployment_id", d.DeploymentID, "error", err)
		return
	}

	if exposed := gjson.GetBytes(d.JobDefinition, "ops.0.args.expose").String(); exposed != "" {
		c.mu.Lock()
		if dd, ok := c.watched[d.DeploymentID]; ok {
			dd.ServiceURL = fmt.Sprintf("https://%s.%s", nodeAddress, c.IngressDomain)
		}
		c.mu.Unlock()
	}
}

// postWithSignatureRetry posts body to url, signed via c.Signer. On a 4xx it
// sleeps 5s, invalidates the cached signature, and retries exactly once with
// a fresh signature (spec.md §4.3 step 5).
func (c *Client) postWithSignatureRetry(ctx context.Context, url string, body []byte) error {
	message := fmt.Sprintf("POST:%s:%d", url, time.Now().Unix())
	err := c.postSigned(ctx, url, body, message)
	if err == nil {
		return nil
	}
	var rejected *model.Remote
	if asRemote(err, &rejected) && rejected.Status >= 400 && rejected.Status < 500 {
		time.Sleep(5 * time.Second)
		c.Signer.Invalidate(ctx, message)
		return c.postSigned(ctx, url, body, message)
	}
	return err
}

func (c *Client) postSigned(ctx context.Context, url string, body []byte, message string) error {
	token, err := c.Signer.Sign(ctx, message)
	if err != nil {
		return err
	}
	return httpPostAuthed(ctx, url, body, token.AuthHeader())
}

func asRemote(err error, target **model.Remote) bool {
	r, ok := err.(*model.Remote)
	if ok {
		*target = r
	}
	return ok
}

// track registers d as watched under this client, single-writer discipline
// per spec.md §5.
func (c *Client) track(d *model.Deployment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watched[d.DeploymentID] = d
}

// Spawn starts a watchdog goroutine for d, tracked so it can be cancelled on
// process-internal needs (e.g. a future graceful drain, per spec.md §9
// "Fire and forget tasks"). A deployment that already has a watchdog is not
// given a second one.
func (c *Client) Spawn(d *model.Deployment) {
	c.track(d)
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if _, running := c.cancels[d.DeploymentID]; running {
		c.mu.Unlock()
		cancel()
		return
	}
	c.cancels[d.DeploymentID] = cancel
	c.mu.Unlock()

	wd := watchdog.New(d, c.Gateway, c.orchestrator, c.auditor, c, c.logger)
	go wd.Run(ctx)
}

// Relaunch implements the watchdog termination policy's re-launch branch: a
// fresh Launch using the held definition, market, and confidentiality.
func (c *Client) Relaunch(ctx context.Context, d *model.Deployment) (*model.Deployment, error) {
	result, err := c.Launch(ctx, d.JobDefinition, d.MarketAddress, d.Confidential)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	nd := c.watched[result.DeploymentID]
	c.mu.Unlock()
	return nd, nil
}

// MarkTerminated removes deploymentID from WatchedDeployments; called by its
// own watchdog exactly once, after the termination policy has run.
func (c *Client) MarkTerminated(deploymentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.watched, deploymentID)
	delete(c.cancels, deploymentID)
}

// MarkUserStopped sets userStopped on a watched deployment, synchronously
// and before any external stop call (spec.md §4.4 Cancellation).
func (c *Client) MarkUserStopped(deploymentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.watched[deploymentID]
	if !ok {
		return false
	}
	d.UserStopped = true
	return true
}

// Stop marks the deployment user-stopped, then issues the external stop.
func (c *Client) Stop(ctx context.Context, deploymentID string) (model.DeploymentStatus, error) {
	c.MarkUserStopped(deploymentID)
	return c.Gateway.StopDeployment(ctx, deploymentID)
}

// Get returns a safe snapshot of a watched deployment.
func (c *Client) Get(deploymentID string) (model.Deployment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.watched[deploymentID]
	if !ok {
		return model.Deployment{}, false
	}
	return d.Snapshot(), true
}

// FindByJobAddress resolves a deployment by one of its current job
// addresses. The RouterSurface's stop endpoint is keyed by jobAddress on
// the wire (spec.md §6) even though a deployment's identity is its
// deploymentId, since jobAddresses rotate under SIMPLE-EXTEND.
func (c *Client) FindByJobAddress(jobAddress string) (model.Deployment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.watched {
		for _, addr := range d.JobAddresses {
			if addr == jobAddress {
				return d.Snapshot(), true
			}
		}
	}
	return model.Deployment{}, false
}

// GetBalance delegates straight to the gateway.
func (c *Client) GetBalance(ctx context.Context) (network.Balance, error) {
	return c.Gateway.GetBalance(ctx)
}

// WatchedDeploymentIDs returns a snapshot of currently-watched ids, used by
// the reconciler to mark them user-stopped before this client is retired.
func (c *Client) WatchedDeploymentIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.watched))
	for id := range c.watched {
		ids = append(ids, id)
	}
	return ids
}

// Recover queries the Network for RUNNING|STARTING deployments owned by this
// credential and spawns a watchdog for each not already watched, with a nil
// JobDefinition (disabling re-launch — spec.md §4.4 Recovery).
func (c *Client) Recover(ctx context.Context, deploymentIDs []string) {
	for _, id := range deploymentIDs {
		c.mu.Lock()
		_, alreadyWatched := c.watched[id]
		c.mu.Unlock()
		if alreadyWatched {
			continue
		}
		snap, err := c.Gateway.GetDeployment(ctx, id)
		if err != nil {
			c.logger.Warn("provider: recovery poll failed", "deployment_id", id, "error", err)
			continue
		}
		if snap.Status != model.StatusRunning && snap.Status != model.StatusStarting {
			continue
		}
		d := &model.Deployment{
			DeploymentID:       id,
			StartTime:          time.Now(),
			LastExtendTime:     time.Now(),
			ServiceURL:         snap.ServiceURL(),
			CredentialName:     c.CredentialName,
			LastStatus:         snap.Status,
			ProviderInstanceID: id,
		}
		c.Spawn(d)
	}
}
