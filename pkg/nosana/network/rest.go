package network

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/InferiaAI/depin-sidecar/pkg/nosana/model"
)

// RESTGateway is the delegated-mode Gateway: REST base {NOSANA_API_URL}/
// with Authorization: Bearer <apiKey>.
type RESTGateway struct {
	doer *httpDoer
}

// NewRESTGateway builds a delegated-mode gateway for one credential's API
// key.
func NewRESTGateway(apiURL, apiKey string) *RESTGateway {
	return &RESTGateway{doer: newHTTPDoer(apiURL, apiKey)}
}

// idempotentCall issues one REST call, retried on 429 per spec.md §4.2.
func (g *RESTGateway) idempotentCall(ctx context.Context, method, path string, body any) ([]byte, error) {
	attempt := 0
	return withRetryMode(ctx, true, "rest", func() ([]byte, error) {
		attempt++
		status, respBody, err := g.doer.do(ctx, method, path, body)
		if err != nil {
			return nil, err
		}
		if cerr := classify(status, respBody, attempt); cerr != nil {
			return nil, cerr
		}
		return respBody, nil
	})
}

// nonIdempotentCall issues one REST call with no retry: per spec.md §9 open
// question #2, a 429 observed after the server accepted a non-idempotent
// request (Create/Start/Stop/StopJob/ExtendJob) is reported as final.
// withRetryMode(..., false, ...) makes every failure permanent, so a
// *model.Transport failure (request never reached the server) is also
// returned after the single attempt.
func (g *RESTGateway) nonIdempotentCall(ctx context.Context, method, path string, body any) ([]byte, error) {
	return withRetryMode(ctx, false, "rest", func() ([]byte, error) {
		status, respBody, err := g.doer.do(ctx, method, path, body)
		if err != nil {
			return nil, err
		}
		if cerr := classify(status, respBody, 1); cerr != nil {
			return nil, cerr
		}
		return respBody, nil
	})
}

func (g *RESTGateway) CreateDeployment(ctx context.Context, name, market string, jobDefinition []byte, replicas, timeoutMinutes int, strategy model.Strategy, confidential bool) (string, error) {
	reqBody := map[string]any{
		"name":           name,
		"market":         market,
		"jobDefinition":  gjson.ParseBytes(jobDefinition).Value(),
		"replicas":       replicas,
		"timeoutMinutes": timeoutMinutes,
		"strategy":       strategy,
		"confidential":   confidential,
	}
	body, err := g.nonIdempotentCall(ctx, "POST", "/api/deployments", reqBody)
	if err != nil {
		return "", err
	}
	id := gjson.GetBytes(body, "id").String()
	if id == "" {
		return "", fmt.Errorf("network: create deployment: missing id in response")
	}
	return id, nil
}

func (g *RESTGateway) StartDeployment(ctx context.Context, deploymentID string) (model.DeploymentStatus, error) {
	body, err := g.nonIdempotentCall(ctx, "POST", "/api/deployments/"+deploymentID+"/start", nil)
	if err != nil {
		return "", err
	}
	return model.DeploymentStatus(gjson.GetBytes(body, "status").String()), nil
}

func (g *RESTGateway) GetDeployment(ctx context.Context, deploymentID string) (DeploymentSnapshot, error) {
	body, err := g.idempotentCall(ctx, "GET", "/api/deployments/"+deploymentID, nil)
	if err != nil {
		return DeploymentSnapshot{}, err
	}
	var endpoints []string
	for _, e := range gjson.GetBytes(body, "endpoints").Array() {
		if url := e.Get("url").String(); url != "" {
			endpoints = append(endpoints, url)
		}
	}
	return DeploymentSnapshot{
		Status:    model.DeploymentStatus(gjson.GetBytes(body, "status").String()),
		Endpoints: endpoints,
		RawBody:   body,
	}, nil
}

func (g *RESTGateway) StopDeployment(ctx context.Context, deploymentID string) (model.DeploymentStatus, error) {
	body, err := g.nonIdempotentCall(ctx, "POST", "/api/deployments/"+deploymentID+"/stop", nil)
	if err != nil {
		return "", err
	}
	return model.DeploymentStatus(gjson.GetBytes(body, "status").String()), nil
}

func (g *RESTGateway) UpdateDeploymentTimeout(ctx context.Context, deploymentID string, minutes int) (int, error) {
	body, err := g.idempotentCall(ctx, "PATCH", "/api/deployments/"+deploymentID+"/timeout", map[string]any{"timeoutMinutes": minutes})
	if err != nil {
		var remote *model.Remote
		if asRemote(err, &remote) && (remote.Status == 404 || remote.Status == 501) {
			return 0, ErrUnsupported
		}
		return 0, err
	}
	return int(gjson.GetBytes(body, "timeoutMinutes").Int()), nil
}

func (g *RESTGateway) ListDeploymentJobs(ctx context.Context, deploymentID string, state model.JobState) ([]model.Job, error) {
	path := "/api/deployments/" + deploymentID + "/jobs"
	if state != "" {
		path += "?state=" + string(state)
	}
	body, err := g.idempotentCall(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}
	var jobs []model.Job
	for _, j := range gjson.ParseBytes(body).Array() {
		jobs = append(jobs, model.Job{
			Address: j.Get("job").String(),
			State:   model.JobState(j.Get("state").String()),
		})
	}
	return jobs, nil
}

func (g *RESTGateway) GetDeploymentJob(ctx context.Context, deploymentID, jobAddress string) (JobDetail, error) {
	body, err := g.idempotentCall(ctx, "GET", "/api/deployments/"+deploymentID+"/jobs/"+jobAddress, nil)
	if err != nil {
		return JobDetail{}, err
	}
	return JobDetail{
		Address:     jobAddress,
		State:       model.JobState(gjson.GetBytes(body, "state").String()),
		NodeAddress: gjson.GetBytes(body, "nodeAddress").String(),
	}, nil
}

func (g *RESTGateway) StopJob(ctx context.Context, jobAddress string) error {
	_, err := g.nonIdempotentCall(ctx, "POST", "/api/jobs/"+jobAddress+"/stop", nil)
	return err
}

func (g *RESTGateway) ExtendJob(ctx context.Context, jobAddress string, seconds int) error {
	_, err := g.nonIdempotentCall(ctx, "POST", "/api/jobs/"+jobAddress+"/extend", map[string]any{"seconds": seconds})
	return err
}

func (g *RESTGateway) GetJobState(ctx context.Context, jobAddress string) (JobDetail, error) {
	body, err := g.idempotentCall(ctx, "GET", "/api/jobs/"+jobAddress, nil)
	if err != nil {
		return JobDetail{}, err
	}
	return JobDetail{
		Address:     jobAddress,
		State:       model.JobState(gjson.GetBytes(body, "state").String()),
		NodeAddress: gjson.GetBytes(body, "nodeAddress").String(),
	}, nil
}

func (g *RESTGateway) GetJobLogs(ctx context.Context, jobAddress string) ([]byte, error) {
	return g.idempotentCall(ctx, "GET", "/api/jobs/"+jobAddress+"/result", nil)
}

func (g *RESTGateway) GetBalance(ctx context.Context) (Balance, error) {
	body, err := g.idempotentCall(ctx, "GET", "/api/balance", nil)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		AssignedCredits: gjson.GetBytes(body, "assignedCredits").Float(),
		ReservedCredits: gjson.GetBytes(body, "reservedCredits").Float(),
		SettledCredits:  gjson.GetBytes(body, "settledCredits").Float(),
	}, nil
}

// PinArtifact and FetchArtifact are local-mode-only operations (spec.md
// §4.2); a delegated gateway never uses content-addressed storage directly.
func (g *RESTGateway) PinArtifact(ctx context.Context, jobDefinition []byte) (string, error) {
	return "", fmt.Errorf("network: PinArtifact not supported in delegated mode")
}

func (g *RESTGateway) FetchArtifact(ctx context.Context, contentHash string) ([]byte, error) {
	return nil, fmt.Errorf("network: FetchArtifact not supported in delegated mode")
}

// ListOwnedDeployments implements ProviderClient Recovery (spec.md §4.4).
func (g *RESTGateway) ListOwnedDeployments(ctx context.Context) ([]string, error) {
	body, err := g.idempotentCall(ctx, "GET", "/api/deployments?status=RUNNING,STARTING", nil)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, d := range gjson.ParseBytes(body).Array() {
		ids = append(ids, d.Get("id").String())
	}
	return ids, nil
}

func asRemote(err error, target **model.Remote) bool {
	r, ok := err.(*model.Remote)
	if ok {
		*target = r
	}
	return ok
}

var _ Gateway = (*RESTGateway)(nil)
