package logbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/InferiaAI/depin-sidecar/pkg/nosana/signer"
)

const (
	streamerHandshakeTimeout = 10 * time.Second
	reconnectDelay           = 3 * time.Second
	maxReconnectAttempts     = 10
)

// nodeLogStreamer opens a WebSocket to a compute node's /log endpoint and
// forwards every received log line to lineCh. Grounded on the same
// connect→read→reconnect shape the teacher uses for its own outbound
// WebSocket watcher, adapted to Nosana's subscribe-frame protocol and
// sender-supplied signing instead of a bearer token.
type nodeLogStreamer struct {
	nodeAddress   string
	ingressDomain string
	jobAddress    string
	signerAddr    string
	sg            signer.Signer
	logger        *slog.Logger

	lineCh chan string
	errCh  chan error

	mu   sync.Mutex
	conn *websocket.Conn
}

func newNodeLogStreamer(nodeAddress, ingressDomain, jobAddress, signerAddr string, sg signer.Signer, logger *slog.Logger) *nodeLogStreamer {
	return &nodeLogStreamer{
		nodeAddress:   nodeAddress,
		ingressDomain: ingressDomain,
		jobAddress:    jobAddress,
		signerAddr:    signerAddr,
		sg:            sg,
		logger:        logger,
		lineCh:        make(chan string, 64),
		errCh:         make(chan error, 8),
	}
}

func (s *nodeLogStreamer) Lines() <-chan string { return s.lineCh }

func (s *nodeLogStreamer) Close() {
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()
}

// run connects, subscribes, and forwards log frames until ctx is cancelled
// or reconnection is exhausted (spec.md §4.6 step 6).
func (s *nodeLogStreamer) run(ctx context.Context) {
	defer close(s.lineCh)

	attempts := 0
	for attempts < maxReconnectAttempts {
		select {
		case <-ctx.Done():
			return
		default:
		}

		closeCode, err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			select {
			case s.errCh <- err:
			default:
			}
		}
		if closeCode == websocket.CloseNormalClosure || closeCode == websocket.CloseNoStatusReceived {
			return
		}
		attempts++

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *nodeLogStreamer) connectAndRead(ctx context.Context) (int, error) {
	wsURL := fmt.Sprintf("wss://%s.%s", s.nodeAddress, s.ingressDomain)
	u, err := url.Parse(wsURL)
	if err != nil {
		return 0, fmt.Errorf("logbridge: parsing node ws url: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: streamerHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), http.Header{})
	if err != nil {
		return 0, fmt.Errorf("logbridge: dial: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		_ = conn.Close()
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	message := fmt.Sprintf("SUBSCRIBE:%s:%d", s.jobAddress, time.Now().Unix())
	token, err := s.sg.Sign(ctx, message)
	if err != nil {
		return 0, fmt.Errorf("logbridge: signing subscribe frame: %w", err)
	}

	subscribe := map[string]any{
		"path": "/log",
		"body": map[string]string{"jobAddress": s.jobAddress, "address": s.signerAddr},
		"header": token.AuthHeader(),
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		return 0, fmt.Errorf("logbridge: writing subscribe frame: %w", err)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				return ce.Code, nil
			}
			return 0, fmt.Errorf("logbridge: read: %w", err)
		}

		var frame struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(msg, &frame); err != nil {
			continue
		}
		if frame.Type != "log" {
			continue
		}
		var line string
		if err := json.Unmarshal(frame.Data, &line); err == nil {
			select {
			case s.lineCh <- line:
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
	}
}
