// Copyright 2026 The Alcove Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/alcove-im/alcove/widget"
)

// SessionFunc runs one widget session over an accepted connection. It is
// invoked in its own goroutine with a Transport bound to the connection
// and must return when the session ends; the connection closes when it
// does. The context is canceled when the bridge stops.
type SessionFunc func(ctx context.Context, transport widget.Transport) error

// Bridge accepts WebSocket connections from widgets and runs a session
// over each one.
type Bridge struct {
	// Addr is the TCP address to listen on (e.g. "127.0.0.1:8794").
	Addr string

	// Path restricts which URL path widgets may connect on. Empty
	// accepts any path.
	Path string

	// AllowedOrigins are the Origin header patterns accepted during the
	// WebSocket handshake, e.g. "app.example.org" or "*.example.org".
	// Empty allows only same-host origins.
	AllowedOrigins []string

	// Session handles each accepted connection.
	Session SessionFunc

	// Logger receives structured log output. If nil, slog.Default() is
	// used. Per-session events are logged at Debug level; errors and
	// lifecycle events at Info/Warn/Error.
	Logger *slog.Logger

	listener     net.Listener
	server       *http.Server
	cancel       context.CancelFunc
	done         chan struct{}
	sessions     sync.WaitGroup
	sessionCount atomic.Int64
}

// logger returns the configured logger or the default.
func (b *Bridge) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

// Start binds the listener and begins accepting widget connections. It
// returns once the listener is bound, or an error if binding fails. The
// bridge runs in the background until Stop is called or the context is
// cancelled.
func (b *Bridge) Start(ctx context.Context) error {
	if b.Addr == "" {
		return fmt.Errorf("bridge: Addr is required")
	}
	if b.Session == nil {
		return fmt.Errorf("bridge: Session is required")
	}

	listener, err := net.Listen("tcp", b.Addr)
	if err != nil {
		return fmt.Errorf("bridge: failed to listen on %s: %w", b.Addr, err)
	}
	b.listener = listener

	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})
	b.server = &http.Server{
		Handler:           http.HandlerFunc(b.handleWidget),
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		defer close(b.done)
		if err := b.server.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			b.logger().Error("widget listener failed", "error", err)
		}
		b.sessions.Wait()
	}()

	b.logger().Info("widget bridge started",
		"addr", listener.Addr(),
		"path", b.Path,
	)
	return nil
}

// ListenerAddr returns the bound listener address, useful when Addr
// requested port 0. Returns nil if the bridge has not been started.
func (b *Bridge) ListenerAddr() net.Addr {
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

// Stop shuts down the bridge: new connections are refused, running
// sessions are cancelled, and Stop returns once they have drained.
func (b *Bridge) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.server != nil {
		b.server.Close()
	}
	if b.done != nil {
		<-b.done
	}
}

// Wait blocks until the bridge has stopped.
func (b *Bridge) Wait() {
	if b.done != nil {
		<-b.done
	}
}

// handleWidget upgrades one connection and runs its session. Sessions
// are counted so Stop can wait for full quiescence; the WebSocket close
// handshake reflects how the session ended.
func (b *Bridge) handleWidget(w http.ResponseWriter, r *http.Request) {
	if b.Path != "" && r.URL.Path != b.Path {
		http.NotFound(w, r)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: b.AllowedOrigins,
	})
	if err != nil {
		b.logger().Warn("websocket accept failed",
			"remote_addr", r.RemoteAddr,
			"error", err,
		)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	sessionID := b.sessionCount.Add(1)
	logger := b.logger().With("session_id", sessionID)
	logger.Debug("widget connected", "remote_addr", r.RemoteAddr)

	b.sessions.Add(1)
	defer b.sessions.Done()
	defer conn.CloseNow()

	if err := b.Session(r.Context(), newWSTransport(conn)); err != nil {
		logger.Warn("widget session failed", "error", err)
		conn.Close(websocket.StatusInternalError, "session error")
		return
	}
	logger.Debug("widget session ended")
	conn.Close(websocket.StatusNormalClosure, "")
}
