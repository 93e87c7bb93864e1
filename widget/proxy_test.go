// Copyright 2026 The Alcove Authors
// SPDX-License-Identifier: Apache-2.0

package widget

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alcove-im/alcove/lib/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// receiveEnvelope reads the next message from the widget end of a pipe
// and decodes its envelope, failing the test rather than hanging.
func receiveEnvelope(t *testing.T, transport Transport) envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	raw, err := transport.Receive(ctx)
	if err != nil {
		t.Fatalf("receiving from driver: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal envelope %s: %v", raw, err)
	}
	return env
}

func pendingCount(p *widgetProxy) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

type sendOutcome struct {
	raw json.RawMessage
	err error
}

func TestProxyRoundTrip(t *testing.T) {
	driverEnd, widgetEnd := Pipe()
	t.Cleanup(func() { driverEnd.Close() })
	p := newWidgetProxy("w1", driverEnd, time.Second, discardLogger())

	outcomes := make(chan sendOutcome, 1)
	go func() {
		raw, err := p.send(context.Background(), actionCapabilities, json.RawMessage(`{}`))
		outcomes <- sendOutcome{raw, err}
	}()

	env := receiveEnvelope(t, widgetEnd)
	if env.API != apiToWidget || env.Action != actionCapabilities || env.WidgetID != "w1" {
		t.Fatalf("request envelope = %+v", env)
	}
	if env.RequestID == "" {
		t.Fatal("request has no id")
	}
	if !p.resolve(env.RequestID, &widgetReply{action: actionCapabilities, response: json.RawMessage(`{"capabilities":[]}`)}) {
		t.Fatal("resolve found no pending entry")
	}

	outcome := testutil.RequireReceive(t, outcomes, 5*time.Second, "send outcome")
	if outcome.err != nil {
		t.Fatalf("send: %v", outcome.err)
	}
	if string(outcome.raw) != `{"capabilities":[]}` {
		t.Errorf("response = %s", outcome.raw)
	}
	if n := pendingCount(p); n != 0 {
		t.Errorf("pending entries after resolve = %d, want 0", n)
	}
}

func TestProxyDeclaredError(t *testing.T) {
	driverEnd, widgetEnd := Pipe()
	t.Cleanup(func() { driverEnd.Close() })
	p := newWidgetProxy("w1", driverEnd, time.Second, discardLogger())

	outcomes := make(chan sendOutcome, 1)
	go func() {
		raw, err := p.send(context.Background(), actionNotifyCapabilities, json.RawMessage(`{}`))
		outcomes <- sendOutcome{raw, err}
	}()

	env := receiveEnvelope(t, widgetEnd)
	p.resolve(env.RequestID, &widgetReply{action: actionNotifyCapabilities, response: errorResponse("widget says no")})

	outcome := testutil.RequireReceive(t, outcomes, 5*time.Second, "send outcome")
	var replyErr *WidgetReplyError
	if !errors.As(outcome.err, &replyErr) {
		t.Fatalf("err = %v, want *WidgetReplyError", outcome.err)
	}
	if replyErr.Message != "widget says no" {
		t.Errorf("message = %q", replyErr.Message)
	}
}

func TestProxyActionMismatch(t *testing.T) {
	driverEnd, widgetEnd := Pipe()
	t.Cleanup(func() { driverEnd.Close() })
	p := newWidgetProxy("w1", driverEnd, time.Second, discardLogger())

	outcomes := make(chan sendOutcome, 1)
	go func() {
		raw, err := p.send(context.Background(), actionCapabilities, json.RawMessage(`{}`))
		outcomes <- sendOutcome{raw, err}
	}()

	env := receiveEnvelope(t, widgetEnd)
	p.resolve(env.RequestID, &widgetReply{action: actionOpenIDCredentials, response: json.RawMessage(`{}`)})

	outcome := testutil.RequireReceive(t, outcomes, 5*time.Second, "send outcome")
	if !errors.Is(outcome.err, ErrUnexpectedReply) {
		t.Fatalf("err = %v, want ErrUnexpectedReply", outcome.err)
	}
}

func TestProxyTimeout(t *testing.T) {
	driverEnd, widgetEnd := Pipe()
	t.Cleanup(func() { driverEnd.Close() })
	p := newWidgetProxy("w1", driverEnd, 20*time.Millisecond, discardLogger())

	outcomes := make(chan sendOutcome, 1)
	go func() {
		raw, err := p.send(context.Background(), actionCapabilities, json.RawMessage(`{}`))
		outcomes <- sendOutcome{raw, err}
	}()

	env := receiveEnvelope(t, widgetEnd)

	outcome := testutil.RequireReceive(t, outcomes, 5*time.Second, "send outcome")
	if !errors.Is(outcome.err, ErrReplyTimeout) {
		t.Fatalf("err = %v, want ErrReplyTimeout", outcome.err)
	}
	if n := pendingCount(p); n != 0 {
		t.Errorf("pending entries after timeout = %d, want 0", n)
	}

	// A reply arriving after the timeout finds nothing waiting.
	if p.resolve(env.RequestID, &widgetReply{action: actionCapabilities, response: json.RawMessage(`{}`)}) {
		t.Error("late reply resolved a request that already timed out")
	}
}

func TestProxyContextCanceled(t *testing.T) {
	driverEnd, widgetEnd := Pipe()
	t.Cleanup(func() { driverEnd.Close() })
	p := newWidgetProxy("w1", driverEnd, time.Minute, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	outcomes := make(chan sendOutcome, 1)
	go func() {
		raw, err := p.send(ctx, actionCapabilities, json.RawMessage(`{}`))
		outcomes <- sendOutcome{raw, err}
	}()

	receiveEnvelope(t, widgetEnd)
	cancel()

	outcome := testutil.RequireReceive(t, outcomes, 5*time.Second, "send outcome")
	if !errors.Is(outcome.err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", outcome.err)
	}
	if n := pendingCount(p); n != 0 {
		t.Errorf("pending entries after cancel = %d, want 0", n)
	}
}

func TestProxySendOnClosedTransport(t *testing.T) {
	driverEnd, _ := Pipe()
	driverEnd.Close()
	p := newWidgetProxy("w1", driverEnd, time.Second, discardLogger())

	_, err := p.send(context.Background(), actionCapabilities, json.RawMessage(`{}`))
	if !errors.Is(err, ErrWidgetDisconnected) {
		t.Fatalf("err = %v, want ErrWidgetDisconnected", err)
	}
	if n := pendingCount(p); n != 0 {
		t.Errorf("pending entries after failed send = %d, want 0", n)
	}
}

func TestProxyCloseAll(t *testing.T) {
	driverEnd, widgetEnd := Pipe()
	t.Cleanup(func() { driverEnd.Close() })
	p := newWidgetProxy("w1", driverEnd, time.Minute, discardLogger())

	outcomes := make(chan sendOutcome, 2)
	for i := 0; i < 2; i++ {
		go func() {
			raw, err := p.send(context.Background(), actionCapabilities, json.RawMessage(`{}`))
			outcomes <- sendOutcome{raw, err}
		}()
	}
	receiveEnvelope(t, widgetEnd)
	receiveEnvelope(t, widgetEnd)

	p.closeAll()
	for i := 0; i < 2; i++ {
		outcome := testutil.RequireReceive(t, outcomes, 5*time.Second, "send outcome")
		if !errors.Is(outcome.err, ErrWidgetDisconnected) {
			t.Errorf("err = %v, want ErrWidgetDisconnected", outcome.err)
		}
	}
	if n := pendingCount(p); n != 0 {
		t.Errorf("pending entries after closeAll = %d, want 0", n)
	}
}

func TestProxyConcurrentRequestsCorrelate(t *testing.T) {
	driverEnd, widgetEnd := Pipe()
	t.Cleanup(func() { driverEnd.Close() })
	p := newWidgetProxy("w1", driverEnd, 5*time.Second, discardLogger())

	const workers = 8
	type result struct {
		worker int
		raw    json.RawMessage
		err    error
	}
	results := make(chan result, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			data := mustMarshal(map[string]int{"worker": worker})
			raw, err := p.send(context.Background(), actionSendEvent, data)
			results <- result{worker, raw, err}
		}(i)
	}

	// Play the widget: echo each request's data back as its response.
	seen := make(map[string]bool)
	for i := 0; i < workers; i++ {
		env := receiveEnvelope(t, widgetEnd)
		if seen[env.RequestID] {
			t.Fatalf("request id %s reused", env.RequestID)
		}
		seen[env.RequestID] = true
		if !p.resolve(env.RequestID, &widgetReply{action: env.Action, response: env.Data}) {
			t.Fatalf("no pending entry for %s", env.RequestID)
		}
	}
	wg.Wait()
	close(results)

	for r := range results {
		if r.err != nil {
			t.Errorf("worker %d: %v", r.worker, r.err)
			continue
		}
		var decoded struct {
			Worker int `json:"worker"`
		}
		if err := json.Unmarshal(r.raw, &decoded); err != nil {
			t.Errorf("worker %d response %s: %v", r.worker, r.raw, err)
			continue
		}
		if decoded.Worker != r.worker {
			t.Errorf("worker %d received the reply for worker %d", r.worker, decoded.Worker)
		}
	}
}

func TestRoundTripDecodesReply(t *testing.T) {
	driverEnd, widgetEnd := Pipe()
	t.Cleanup(func() { driverEnd.Close() })
	p := newWidgetProxy("w1", driverEnd, time.Second, discardLogger())

	t.Run("well-formed reply", func(t *testing.T) {
		type outcome struct {
			response capabilitiesResponse
			err      error
		}
		outcomes := make(chan outcome, 1)
		go func() {
			response, err := roundTrip[capabilitiesResponse](context.Background(), p, actionCapabilities, struct{}{})
			outcomes <- outcome{response, err}
		}()

		env := receiveEnvelope(t, widgetEnd)
		p.resolve(env.RequestID, &widgetReply{
			action:   actionCapabilities,
			response: json.RawMessage(`{"capabilities":["org.matrix.msc2762.receive.state_event:m.room.topic"]}`),
		})

		got := testutil.RequireReceive(t, outcomes, 5*time.Second, "round trip outcome")
		if got.err != nil {
			t.Fatalf("roundTrip: %v", got.err)
		}
		if len(got.response.Capabilities.Read) != 1 {
			t.Errorf("capabilities = %#v", got.response.Capabilities)
		}
	})

	t.Run("undecodable reply", func(t *testing.T) {
		outcomes := make(chan error, 1)
		go func() {
			_, err := roundTrip[capabilitiesResponse](context.Background(), p, actionCapabilities, struct{}{})
			outcomes <- err
		}()

		env := receiveEnvelope(t, widgetEnd)
		p.resolve(env.RequestID, &widgetReply{action: actionCapabilities, response: json.RawMessage(`[1,2,3]`)})

		err := testutil.RequireReceive(t, outcomes, 5*time.Second, "round trip outcome")
		if !errors.Is(err, ErrUnexpectedReply) {
			t.Fatalf("err = %v, want ErrUnexpectedReply", err)
		}
	})
}

func TestNewWidgetProxyDefaults(t *testing.T) {
	driverEnd, _ := Pipe()
	t.Cleanup(func() { driverEnd.Close() })
	p := newWidgetProxy("w1", driverEnd, 0, nil)
	if p.timeout != DefaultReplyTimeout {
		t.Errorf("timeout = %v, want %v", p.timeout, DefaultReplyTimeout)
	}
	if p.logger == nil {
		t.Error("logger not defaulted")
	}
}
