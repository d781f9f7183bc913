package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/InferiaAI/depin-sidecar/pkg/nosana/model"
)

// nodeRequestTimeout is the confidential-handoff POST timeout (spec.md §5).
const nodeRequestTimeout = 10 * time.Second

var nodeHTTPClient = &http.Client{Timeout: nodeRequestTimeout}

// httpPostAuthed POSTs body to url with Authorization: <authHeader>, the
// "MESSAGE:SIGNATURE" token a compute node expects (spec.md §6).
func httpPostAuthed(ctx context.Context, url string, body []byte, authHeader string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("provider: building node request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", authHeader)

	resp, err := nodeHTTPClient.Do(req)
	if err != nil {
		return &model.Transport{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &model.Transport{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &model.Remote{Status: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}
