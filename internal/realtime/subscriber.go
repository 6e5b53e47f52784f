// Package realtime subscribes to change notifications for the primary state
// row over the backend's phoenix-style websocket. On every change the state
// is reloaded through the session and handed to the caller's callback.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"

	"github.com/jaakkos/statebridge/internal/domain"
)

const (
	// socketPath is the realtime websocket mount point on the backend endpoint.
	socketPath = "/realtime/v1/websocket"

	defaultHeartbeatInterval = 30 * time.Second
	reloadTimeout            = 15 * time.Second
)

// rowTopic is the channel topic for the single primary row.
var rowTopic = "realtime:public:app_data:id=eq." + domain.StateRowID

// StateLoader reloads the current state. Implementation: session.Session.
type StateLoader interface {
	Load(ctx context.Context) (json.RawMessage, error)
}

// Callback receives the refreshed state after a change notification.
type Callback func(state json.RawMessage)

// frame is a phoenix channel message.
type frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
}

// Subscriber holds one open change subscription. Create with Subscribe,
// tear down with Close.
type Subscriber struct {
	creds     domain.Credentials
	loader    StateLoader
	cb        Callback
	logger    *log.Logger
	heartbeat time.Duration

	cancel    context.CancelFunc
	doneCh    chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	conn *websocket.Conn
}

// Option configures the subscriber.
type Option func(*Subscriber)

// WithHeartbeatInterval overrides the phoenix heartbeat interval (default 30s).
func WithHeartbeatInterval(d time.Duration) Option {
	return func(s *Subscriber) { s.heartbeat = d }
}

// Subscribe opens the change subscription for the primary row. The initial
// dial and channel join are hard failures; after that, dropped connections
// reconnect with exponential backoff and reload errors are swallowed, so the
// subscription never surfaces an error again until Close.
func Subscribe(ctx context.Context, creds domain.Credentials, loader StateLoader, cb Callback, logger *log.Logger, opts ...Option) (*Subscriber, error) {
	s := &Subscriber{
		creds:     creds,
		loader:    loader,
		cb:        cb,
		logger:    logger,
		heartbeat: defaultHeartbeatInterval,
		doneCh:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}

	conn, err := s.dialAndJoin(ctx)
	if err != nil {
		return nil, err
	}
	s.conn = conn

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(loopCtx)
	return s, nil
}

// Close tears down the socket and the background loops.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.mu.Lock()
		if s.conn != nil {
			_ = s.conn.Close(websocket.StatusNormalClosure, "unsubscribe")
		}
		s.mu.Unlock()
		<-s.doneCh
	})
}

// socketURL converts the REST endpoint to the websocket URL.
func (s *Subscriber) socketURL() (string, error) {
	u, err := url.Parse(s.creds.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("endpoint scheme %q not supported", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + socketPath
	q := u.Query()
	q.Set("apikey", s.creds.APIKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Subscriber) dialAndJoin(ctx context.Context) (*websocket.Conn, error) {
	wsURL, err := s.socketURL()
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, &domain.RemoteError{Op: "subscribe app_data", Err: err}
	}
	join := frame{Topic: rowTopic, Event: "phx_join", Payload: json.RawMessage(`{}`), Ref: "1"}
	if err := writeFrame(ctx, conn, join); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "join failed")
		return nil, &domain.RemoteError{Op: "subscribe app_data", Err: err}
	}
	return conn, nil
}

func (s *Subscriber) run(ctx context.Context) {
	defer close(s.doneCh)
	go s.heartbeatLoop(ctx)

	for {
		conn := s.currentConn()
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Printf("Realtime: connection lost (%v), reconnecting", err)
			if !s.reconnect(ctx) {
				return
			}
			continue
		}
		s.handleFrame(ctx, data)
	}
}

func (s *Subscriber) currentConn() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// reconnect dials until it succeeds or ctx is cancelled. Individual failures
// are logged, never surfaced.
func (s *Subscriber) reconnect(ctx context.Context) bool {
	conn, err := backoff.Retry(ctx, func() (*websocket.Conn, error) {
		return s.dialAndJoin(ctx)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithNotify(func(err error, next time.Duration) {
		s.logger.Printf("Realtime: reconnect failed (%v), next attempt in %s", err, next)
	}))
	if err != nil {
		return false
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.logger.Println("Realtime: reconnected")
	return true
}

func (s *Subscriber) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hb := frame{Topic: "phoenix", Event: "heartbeat", Payload: json.RawMessage(`{}`), Ref: "0"}
			// A write error here means the read loop is about to notice
			// the dead connection and reconnect.
			if err := writeFrame(ctx, s.currentConn(), hb); err != nil && ctx.Err() == nil {
				s.logger.Printf("Realtime: heartbeat failed: %v", err)
			}
		}
	}
}

// handleFrame reacts to change events on the row topic. Reload failures are
// swallowed: the subscription stays up and the callback simply isn't called.
func (s *Subscriber) handleFrame(ctx context.Context, data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return
	}
	if f.Topic != rowTopic {
		return
	}
	switch f.Event {
	case "INSERT", "UPDATE", "postgres_changes":
	default:
		return
	}

	reloadCtx, cancel := context.WithTimeout(ctx, reloadTimeout)
	defer cancel()
	state, err := s.loader.Load(reloadCtx)
	if err != nil {
		s.logger.Printf("Warning: realtime reload failed: %v", err)
		return
	}
	s.cb(state)
}

func writeFrame(ctx context.Context, conn *websocket.Conn, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
