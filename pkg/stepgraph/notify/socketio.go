package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// ErrDisconnected indicates the socket.io connection is down.
var ErrDisconnected = errors.New("socket.io client is not connected")

// DefaultEvent is the event name updates are emitted under.
const DefaultEvent = "workflow_update"

// connectTimeout bounds DialSocketIO when ctx has no deadline.
const connectTimeout = 15 * time.Second

// SocketIOConfig configures a socket.io notifier.
type SocketIOConfig struct {
	// URL is the server address, e.g. "http://localhost:3000".
	URL string
	// Path is the socket.io endpoint path. Defaults to "/socket.io/".
	Path string
	// Namespace defaults to "/".
	Namespace string
	// Event defaults to DefaultEvent.
	Event              string
	InsecureSkipVerify bool
}

// SocketIO emits notifications as socket.io events over a websocket.
type SocketIO struct {
	io     *socket.Socket
	event  string
	logger *slog.Logger
}

// DialSocketIO connects to a socket.io server and waits for the namespace
// handshake.
func DialSocketIO(ctx context.Context, cfg SocketIOConfig, logger *slog.Logger) (*SocketIO, error) {
	if logger == nil {
		logger = slog.Default()
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse socket.io url: %w", err)
	}
	if cfg.Path == "" {
		cfg.Path = "/socket.io/"
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "/"
	}
	if cfg.Event == "" {
		cfg.Event = DefaultEvent
	}
	logger = logger.With("notifier", "socketio", "url", cfg.URL, "namespace", cfg.Namespace)

	opts := socket.DefaultOptions()
	opts.SetPath(cfg.Path)
	if cfg.InsecureSkipVerify {
		logger.Warn("skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	baseURL := fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(cfg.Namespace, opts)

	connected := make(chan error, 1)
	io.Once(types.EventName("connect"), func(...any) {
		connected <- nil
	})
	io.Once(types.EventName("connect_error"), func(args ...any) {
		err := errors.New("connect_error")
		if len(args) > 0 {
			if e, ok := args[0].(error); ok {
				err = e
			}
		}
		connected <- err
	})

	io.Connect()

	timer := time.NewTimer(connectTimeout)
	defer timer.Stop()

	select {
	case err := <-connected:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("waiting for socket.io connection: %w", ctx.Err())
	case <-timer.C:
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", connectTimeout)
	}

	logger.Info("notifier connected", "sid", io.Id())
	return &SocketIO{io: io, event: cfg.Event, logger: logger}, nil
}

// Notify implements Notifier. The event payload is an object with
// "message" and "sent_at" fields. Emission is fire-and-forget.
func (s *SocketIO) Notify(_ context.Context, text string) error {
	if !s.io.Connected() {
		return ErrDisconnected
	}
	s.logger.Debug("emitting update", "event", s.event)
	s.io.Emit(s.event, map[string]any{
		"message": text,
		"sent_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	return nil
}

// Close disconnects from the server.
func (s *SocketIO) Close() error {
	s.io.Disconnect()
	return nil
}
