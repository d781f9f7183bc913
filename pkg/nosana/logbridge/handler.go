// Package logbridge implements C6: a WebSocket endpoint that streams a
// running job's live logs or replays a terminated job's historical logs,
// proxying to a compute node or to the Network's stored result archive.
package logbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/InferiaAI/depin-sidecar/internal/telemetry"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/provider"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/registry"
)

const (
	connectTimeout = 10 * time.Second
	pollFallback   = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	HandshakeTimeout: connectTimeout,
	ReadBufferSize:   4096,
	WriteBufferSize:  4096,
	CheckOrigin:      func(r *http.Request) bool { return true },
}

// subscribeRequest is the inbound WebSocket subscribe frame (spec.md §4.6).
type subscribeRequest struct {
	Type           string `json:"type"`
	Provider       string `json:"provider"`
	JobID          string `json:"jobId"`
	NodeAddress    string `json:"nodeAddress"`
	CredentialName string `json:"credentialName"`
}

// Handler upgrades inbound connections and bridges job logs. It depends only
// on the registry so it can resolve any credential's client, mirroring the
// router's resolution rule (spec.md §4.7 "absence ⇒ default").
type Handler struct {
	registry *registry.Registry[*provider.Client]
	logger   *slog.Logger
}

// New builds a LogBridge handler over reg.
func New(reg *registry.Registry[*provider.Client], logger *slog.Logger) *Handler {
	return &Handler{registry: reg, logger: logger}
}

// ServeHTTP implements the single WebSocket endpoint (spec.md §6).
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("logbridge: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	telemetry.LogBridgeConnectionsGauge.Inc()
	defer telemetry.LogBridgeConnectionsGauge.Dec()

	conn.SetReadDeadline(time.Now().Add(connectTimeout))
	var req subscribeRequest
	if err := conn.ReadJSON(&req); err != nil {
		h.logger.Warn("logbridge: reading subscribe frame", "error", err)
		return
	}
	conn.SetReadDeadline(time.Time{})

	if req.Type != "subscribe_logs" {
		writeError(conn, fmt.Sprintf("unsupported message type %q", req.Type))
		return
	}

	client, ok := h.registry.Get(req.CredentialName)
	if !ok {
		writeError(conn, fmt.Sprintf("no credential resolvable for %q", req.CredentialName))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go drainClientCloses(conn, cancel)

	h.stream(ctx, conn, client, req.JobID, req.NodeAddress)
}

// drainClientCloses reads (and discards) further client frames so the
// connection's close frame is observed promptly, cancelling ctx on any read
// error (spec.md §4.6 "Lifetime... released on client disconnect").
func drainClientCloses(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) stream(ctx context.Context, conn *websocket.Conn, client *provider.Client, jobID, nodeAddress string) {
	detail, err := client.Gateway.GetJobState(ctx, jobID)
	if err != nil {
		writeError(conn, fmt.Sprintf("job lookup failed: %v", err))
		return
	}

	if detail.State.Terminal() {
		h.replayHistorical(ctx, conn, client, jobID)
		return
	}

	if nodeAddress == "" {
		nodeAddress = detail.NodeAddress
	}
	if nodeAddress == "" {
		// Job accepted but not yet scheduled to a node; poll until it is or
		// terminates (spec.md §4.6 step 5 fallback).
		h.pollUntilResolved(ctx, conn, client, jobID)
		return
	}

	h.streamLive(ctx, conn, client, jobID, nodeAddress)
}

// replayHistorical implements spec.md §4.6 step 4.
func (h *Handler) replayHistorical(ctx context.Context, conn *websocket.Conn, client *provider.Client, jobID string) {
	writeLog(conn, "[SYSTEM] replaying historical logs")

	result, err := client.Gateway.GetJobLogs(ctx, jobID)
	if err != nil {
		writeError(conn, fmt.Sprintf("fetching historical logs: %v", err))
		return
	}
	for _, line := range flattenHistoricalLogs(result) {
		writeLog(conn, line)
	}
	writeLog(conn, "[SYSTEM] --- END OF HISTORICAL LOGS ---")
}

// streamLive opens a node streamer and forwards its lines until ctx is done
// or the streamer gives up (spec.md §4.6 steps 5-6).
func (h *Handler) streamLive(ctx context.Context, conn *websocket.Conn, client *provider.Client, jobID, nodeAddress string) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	streamer := newNodeLogStreamer(nodeAddress, client.IngressDomain, jobID, client.CredentialName, client.Signer, h.logger)
	go streamer.run(streamCtx)
	defer streamer.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-streamer.Lines():
			if !ok {
				// Streamer exhausted reconnect attempts or the job ended;
				// fall back to polling for termination and replay.
				h.pollUntilResolved(ctx, conn, client, jobID)
				return
			}
			writeLog(conn, line)
		case err := <-streamer.errCh:
			h.logger.Warn("logbridge: streamer error", "job_id", jobID, "error", err)
		}
	}
}

// pollUntilResolved implements the delegated-mode-unavailable fallback: poll
// job state every 10s, replaying historical logs once it terminates.
func (h *Handler) pollUntilResolved(ctx context.Context, conn *websocket.Conn, client *provider.Client, jobID string) {
	ticker := time.NewTicker(pollFallback)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			detail, err := client.Gateway.GetJobState(ctx, jobID)
			if err != nil {
				h.logger.Warn("logbridge: poll failed", "job_id", jobID, "error", err)
				continue
			}
			if detail.State.Terminal() {
				h.replayHistorical(ctx, conn, client, jobID)
				return
			}
			if detail.NodeAddress != "" {
				h.streamLive(ctx, conn, client, jobID, detail.NodeAddress)
				return
			}
		}
	}
}

func writeLog(conn *websocket.Conn, line string) {
	_ = conn.WriteJSON(map[string]string{"type": "log", "data": line})
}

func writeError(conn *websocket.Conn, message string) {
	_ = conn.WriteJSON(map[string]string{"type": "error", "message": message})
}
