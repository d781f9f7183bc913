package logbridge

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/InferiaAI/depin-sidecar/pkg/nosana/model"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/network"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/provider"
	"github.com/InferiaAI/depin-sidecar/pkg/nosana/registry"
)

type fakeGateway struct {
	network.Gateway
	jobState model.JobState
	nodeAddr string
	logsBody []byte
}

func (g *fakeGateway) GetJobState(ctx context.Context, jobAddress string) (network.JobDetail, error) {
	return network.JobDetail{Address: jobAddress, State: g.jobState, NodeAddress: g.nodeAddr}, nil
}

func (g *fakeGateway) GetJobLogs(ctx context.Context, jobAddress string) ([]byte, error) {
	return g.logsBody, nil
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrames(t *testing.T, conn *websocket.Conn, timeout time.Duration) []map[string]string {
	t.Helper()
	var frames []map[string]string
	deadline := time.Now().Add(timeout)
	for {
		conn.SetReadDeadline(deadline)
		var frame map[string]string
		if err := conn.ReadJSON(&frame); err != nil {
			break
		}
		frames = append(frames, frame)
		if frame["data"] == "[SYSTEM] --- END OF HISTORICAL LOGS ---" || frame["type"] == "error" {
			break
		}
	}
	return frames
}

func TestHandler_HistoricalReplay(t *testing.T) {
	gw := &fakeGateway{
		jobState: model.JobStopped,
		logsBody: []byte(`{"logs":[{"log":"hello"},"world"]}`),
	}
	client := provider.New("default", gw, nil, "nos.example", nil, nil, slog.Default())
	reg := registry.New[*provider.Client]()
	reg.Set("default", client, true)

	h := New(reg, slog.Default())
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	conn := dialWS(t, srv)
	if err := conn.WriteJSON(map[string]string{"type": "subscribe_logs", "jobId": "job-1"}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	frames := readFrames(t, conn, 2*time.Second)
	if len(frames) < 4 {
		t.Fatalf("expected at least 4 frames (system-open, hello, world, system-close), got %d: %#v", len(frames), frames)
	}
	if !strings.Contains(frames[0]["data"], "replaying historical logs") {
		t.Errorf("first frame = %v, want system replay banner", frames[0])
	}
	last := frames[len(frames)-1]
	if last["data"] != "[SYSTEM] --- END OF HISTORICAL LOGS ---" {
		t.Errorf("last frame = %v, want closing banner", last)
	}
	var saw []string
	for _, f := range frames {
		if f["type"] == "log" {
			saw = append(saw, f["data"])
		}
	}
	found := map[string]bool{}
	for _, s := range saw {
		found[s] = true
	}
	if !found["hello"] || !found["world"] {
		t.Errorf("expected flattened lines hello/world, got %v", saw)
	}
}

func TestHandler_UnknownCredential(t *testing.T) {
	reg := registry.New[*provider.Client]()
	h := New(reg, slog.Default())
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	conn := dialWS(t, srv)
	if err := conn.WriteJSON(map[string]string{"type": "subscribe_logs", "jobId": "job-1", "credentialName": "missing"}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	var frame map[string]string
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read: %v", err)
	}
	if frame["type"] != "error" {
		t.Errorf("frame type = %q, want error", frame["type"])
	}
}

func TestHandler_UnsupportedMessageType(t *testing.T) {
	gw := &fakeGateway{jobState: model.JobStopped}
	client := provider.New("default", gw, nil, "nos.example", nil, nil, slog.Default())
	reg := registry.New[*provider.Client]()
	reg.Set("default", client, true)

	h := New(reg, slog.Default())
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	conn := dialWS(t, srv)
	if err := conn.WriteJSON(map[string]string{"type": "not_a_thing"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var frame map[string]string
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read: %v", err)
	}
	if frame["type"] != "error" {
		t.Errorf("frame type = %q, want error", frame["type"])
	}
}
