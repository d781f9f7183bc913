package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/InferiaAI/depin-sidecar/pkg/nosana/model"
)

// defaultTimeout is the Network REST default timeout (spec.md §5).
const defaultTimeout = 30 * time.Second

type httpDoer struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func newHTTPDoer(baseURL, apiKey string) *httpDoer {
	return &httpDoer{
		client:  &http.Client{Timeout: defaultTimeout},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

// do issues one HTTP request and classifies the outcome per spec.md §4.2:
// a response was received and its status is returned verbatim (including
// 429) so the caller can decide idempotency-aware retry; a request that
// never reached the server is reported as *model.Transport.
func (d *httpDoer) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshalling request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, nil, &model.Transport{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, &model.Transport{Err: err}
	}

	return resp.StatusCode, respBody, nil
}

// classify turns an HTTP status + body into either nil (2xx), a
// *model.RateLimited (429), or a *model.Remote (other non-2xx).
func classify(status int, body []byte, attempt int) error {
	if status >= 200 && status < 300 {
		return nil
	}
	if status == http.StatusTooManyRequests {
		return &model.RateLimited{Attempt: attempt}
	}
	return &model.Remote{Status: status, Body: string(body)}
}
