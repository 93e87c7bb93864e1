// Copyright 2026 The Alcove Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/alcove-im/alcove/lib/testutil"
	"github.com/alcove-im/alcove/widget"
)

// startBridge starts a bridge on an ephemeral port running the given
// session function, and stops it when the test completes.
func startBridge(t *testing.T, session SessionFunc) *Bridge {
	t.Helper()
	b := &Bridge{
		Addr:    "127.0.0.1:0",
		Session: session,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(b.Stop)
	return b
}

// dialBridge opens a WebSocket client connection to the bridge at the
// given path.
func dialBridge(t *testing.T, b *Bridge, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws://" + b.ListenerAddr().String() + path
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	conn.SetReadLimit(maxMessageSize)
	return conn
}

// echoSession answers every received message with an "echo: " prefix
// until the connection goes away.
func echoSession(ctx context.Context, transport widget.Transport) error {
	for {
		message, err := transport.Receive(ctx)
		if err != nil {
			if errors.Is(err, widget.ErrTransportClosed) {
				return nil
			}
			return err
		}
		if err := transport.Send(ctx, append([]byte("echo: "), message...)); err != nil {
			return err
		}
	}
}

func TestStart_MissingAddr(t *testing.T) {
	b := &Bridge{
		Session: echoSession,
	}
	err := b.Start(context.Background())
	if err == nil {
		t.Fatal("expected error for missing Addr")
	}
	if got := err.Error(); got != "bridge: Addr is required" {
		t.Fatalf("unexpected error: %s", got)
	}
}

func TestStart_MissingSession(t *testing.T) {
	b := &Bridge{
		Addr: "127.0.0.1:0",
	}
	err := b.Start(context.Background())
	if err == nil {
		t.Fatal("expected error for missing Session")
	}
	if got := err.Error(); got != "bridge: Session is required" {
		t.Fatalf("unexpected error: %s", got)
	}
}

func TestListenerAddr_BeforeStart(t *testing.T) {
	b := &Bridge{}
	if b.ListenerAddr() != nil {
		t.Fatal("expected nil ListenerAddr before Start")
	}
}

func TestListenerAddr_AfterStart(t *testing.T) {
	b := startBridge(t, echoSession)

	address := b.ListenerAddr()
	if address == nil {
		t.Fatal("expected non-nil ListenerAddr after Start")
	}
	tcpAddress, ok := address.(*net.TCPAddr)
	if !ok {
		t.Fatalf("expected *net.TCPAddr, got %T", address)
	}
	if tcpAddress.Port == 0 {
		t.Fatal("expected non-zero port after binding to port 0")
	}
}

func TestSessionRoundTrip(t *testing.T) {
	b := startBridge(t, echoSession)
	conn := dialBridge(t, b, "/")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, []byte("ping")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	messageType, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if messageType != websocket.MessageText {
		t.Fatalf("expected a text frame, got %v", messageType)
	}
	if got := string(data); got != "echo: ping" {
		t.Fatalf("expected %q, got %q", "echo: ping", got)
	}
}

func TestPathRouting(t *testing.T) {
	received := make(chan error, 4)
	b := &Bridge{
		Addr:   "127.0.0.1:0",
		Path:   "/widget",
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Session: func(ctx context.Context, transport widget.Transport) error {
			_, err := transport.Receive(ctx)
			received <- err
			return nil
		},
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(b.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wrongURL := "ws://" + b.ListenerAddr().String() + "/other"
	if _, _, err := websocket.Dial(ctx, wrongURL, nil); err == nil {
		t.Fatal("expected handshake failure on the wrong path")
	}

	conn := dialBridge(t, b, "/widget")
	conn.Close(websocket.StatusNormalClosure, "")
	testutil.RequireReceive(t, received, 5*time.Second, "session on the configured path")
}

func TestClientCloseEndsSession(t *testing.T) {
	received := make(chan error, 1)
	b := startBridge(t, func(ctx context.Context, transport widget.Transport) error {
		_, err := transport.Receive(ctx)
		received <- err
		return nil
	})

	conn := dialBridge(t, b, "/")
	if err := conn.Close(websocket.StatusNormalClosure, "done"); err != nil {
		t.Fatalf("Close: %v", err)
	}

	err := testutil.RequireReceive(t, received, 5*time.Second, "session never observed the close")
	if !errors.Is(err, widget.ErrTransportClosed) {
		t.Fatalf("expected ErrTransportClosed, got %v", err)
	}
}

func TestAbruptDisconnectEndsSession(t *testing.T) {
	received := make(chan error, 1)
	b := startBridge(t, func(ctx context.Context, transport widget.Transport) error {
		_, err := transport.Receive(ctx)
		received <- err
		return nil
	})

	conn := dialBridge(t, b, "/")
	conn.CloseNow()

	err := testutil.RequireReceive(t, received, 5*time.Second, "session never observed the disconnect")
	if !errors.Is(err, widget.ErrTransportClosed) {
		t.Fatalf("expected ErrTransportClosed, got %v", err)
	}
}

func TestSendAfterClientGone(t *testing.T) {
	gone := make(chan struct{})
	result := make(chan error, 1)
	b := startBridge(t, func(ctx context.Context, transport widget.Transport) error {
		// Drain the close frame so the connection observes teardown.
		transport.Receive(ctx)
		<-gone
		result <- transport.Send(ctx, []byte("too late"))
		return nil
	})

	conn := dialBridge(t, b, "/")
	conn.Close(websocket.StatusNormalClosure, "")
	close(gone)

	err := testutil.RequireReceive(t, result, 5*time.Second, "send outcome")
	if !errors.Is(err, widget.ErrTransportClosed) {
		t.Fatalf("expected ErrTransportClosed, got %v", err)
	}
}

func TestLargeMessage(t *testing.T) {
	b := startBridge(t, echoSession)
	conn := dialBridge(t, b, "/")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Well past the library's 32 KiB default read limit, exercising the
	// raised bound on both ends.
	payload := make([]byte, 100_000)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if want := len("echo: ") + len(payload); len(data) != want {
		t.Fatalf("expected %d bytes back, got %d", want, len(data))
	}
}

func TestConcurrentSessions(t *testing.T) {
	b := startBridge(t, echoSession)

	const sessionCount = 8
	results := make(chan error, sessionCount)

	for i := range sessionCount {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			url := "ws://" + b.ListenerAddr().String() + "/"
			conn, _, err := websocket.Dial(ctx, url, nil)
			if err != nil {
				results <- err
				return
			}
			defer conn.CloseNow()

			payload := []byte("session-" + string(rune('A'+i)))
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				results <- err
				return
			}
			_, data, err := conn.Read(ctx)
			if err != nil {
				results <- err
				return
			}
			if got, want := string(data), "echo: "+string(payload); got != want {
				results <- errors.New("expected " + want + ", got " + got)
				return
			}
			results <- nil
		}()
	}

	for range sessionCount {
		if err := testutil.RequireReceive(t, results, 10*time.Second, "session outcome"); err != nil {
			t.Errorf("session error: %v", err)
		}
	}
}

func TestStopCancelsSessions(t *testing.T) {
	sessionDone := make(chan error, 1)
	b := &Bridge{
		Addr:   "127.0.0.1:0",
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Session: func(ctx context.Context, transport widget.Transport) error {
			_, err := transport.Receive(ctx)
			sessionDone <- err
			return nil
		},
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	conn := dialBridge(t, b, "/")
	defer conn.CloseNow()

	stopDone := make(chan struct{})
	go func() {
		b.Stop()
		close(stopDone)
	}()

	err := testutil.RequireReceive(t, sessionDone, 5*time.Second, "session cancellation")
	if err == nil {
		t.Fatal("expected the blocked Receive to fail on Stop")
	}
	testutil.RequireClosed(t, stopDone, 5*time.Second, "Stop return")
}

func TestStopIdempotent(t *testing.T) {
	b := startBridge(t, echoSession)

	// The second Stop (and the cleanup's third) must not panic or hang.
	b.Stop()
	b.Stop()
}

// widgetStubRoom satisfies widget.RoomClient with canned responses for
// the end-to-end driver test.
type widgetStubRoom struct{}

func (widgetStubRoom) ReadEvents(ctx context.Context, eventType string, limit int) ([]json.RawMessage, error) {
	return nil, nil
}

func (widgetStubRoom) SendEvent(ctx context.Context, eventType string, stateKey *string, content json.RawMessage) (widget.SentEvent, error) {
	return widget.SentEvent{}, errors.New("not implemented")
}

func (widgetStubRoom) OpenIDToken(ctx context.Context) (widget.OpenIDToken, error) {
	return widget.OpenIDToken{}, errors.New("not implemented")
}

func (widgetStubRoom) Subscribe(ctx context.Context, eventTypes []string) (<-chan json.RawMessage, error) {
	return nil, errors.New("not implemented")
}

// TestDriverOverBridge runs a real widget driver behind the bridge and
// speaks the wire protocol through an actual WebSocket client: a
// supported_api_versions request must come back with a populated
// version list.
func TestDriverOverBridge(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := startBridge(t, func(ctx context.Context, transport widget.Transport) error {
		driver, err := widget.NewDriver(widget.DriverConfig{
			// InitOnLoad keeps the driver from negotiating until the
			// widget announces itself, so the client's first read is
			// the versions reply rather than a capabilities request.
			Settings:  widget.Settings{ID: "bridged-widget", InitOnLoad: true},
			Transport: transport,
			Room:      widgetStubRoom{},
			Arbiter: widget.ArbiterFunc(func(ctx context.Context, requested widget.Capabilities) (widget.Capabilities, error) {
				return requested, nil
			}),
			Logger: logger,
		})
		if err != nil {
			return err
		}
		return driver.Run(ctx)
	})

	conn := dialBridge(t, b, "/")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	request := `{"api":"fromWidget","requestId":"v1","widgetId":"bridged-widget","action":"supported_api_versions","data":{}}`
	if err := conn.Write(ctx, websocket.MessageText, []byte(request)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var reply struct {
		API       string `json:"api"`
		RequestID string `json:"requestId"`
		Action    string `json:"action"`
		Response  struct {
			SupportedVersions []string `json:"supported_versions"`
		} `json:"response"`
	}
	if err := json.Unmarshal(data, &reply); err != nil {
		t.Fatalf("Unmarshal reply: %v", err)
	}
	if reply.API != "fromWidget" || reply.RequestID != "v1" || reply.Action != "supported_api_versions" {
		t.Fatalf("unexpected reply envelope: %s", data)
	}
	found := false
	for _, version := range reply.Response.SupportedVersions {
		if version == "org.matrix.msc2762" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected org.matrix.msc2762 in supported versions, got %v", reply.Response.SupportedVersions)
	}
}
