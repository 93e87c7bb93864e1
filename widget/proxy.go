// Copyright 2026 The Alcove Authors
// SPDX-License-Identifier: Apache-2.0

package widget

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultReplyTimeout bounds how long a host-initiated request waits for
// the widget's reply. Ten seconds is the upper bound the widget API
// mandates; a widget that has not answered by then is treated as
// unresponsive and a late reply is orphaned.
const DefaultReplyTimeout = 10 * time.Second

// widgetReply is an incoming reply routed to the sender waiting on it.
type widgetReply struct {
	action   string
	response json.RawMessage
}

// widgetProxy sends host-initiated requests to the widget and correlates
// the eventual replies. Each in-flight request has an entry in the
// pending table: a single-use buffered slot keyed by request id. Entries
// are removed exactly once, by whichever of reply, timeout, or shutdown
// comes first. The lock guards only the table, never I/O.
type widgetProxy struct {
	widgetID  string
	transport Transport
	timeout   time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]chan *widgetReply
}

func newWidgetProxy(widgetID string, transport Transport, timeout time.Duration, logger *slog.Logger) *widgetProxy {
	if timeout <= 0 {
		timeout = DefaultReplyTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &widgetProxy{
		widgetID:  widgetID,
		transport: transport,
		timeout:   timeout,
		logger:    logger,
		pending:   make(map[string]chan *widgetReply),
	}
}

// send performs one request/reply round trip. It returns the raw success
// response body; a failure the widget declared comes back as
// *WidgetReplyError, an answer of the wrong kind as ErrUnexpectedReply.
func (p *widgetProxy) send(ctx context.Context, action string, data json.RawMessage) (json.RawMessage, error) {
	requestID := uuid.NewString()
	slot := make(chan *widgetReply, 1)
	p.mu.Lock()
	p.pending[requestID] = slot
	p.mu.Unlock()

	// The slot is parked before the write so a reply that races the
	// send still finds its entry.
	if err := p.transport.Send(ctx, encodeRequest(requestID, p.widgetID, action, data)); err != nil {
		p.remove(requestID)
		return nil, fmt.Errorf("%w: %v", ErrWidgetDisconnected, err)
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case reply, ok := <-slot:
		if !ok {
			return nil, ErrWidgetDisconnected
		}
		if reply.action != action {
			return nil, fmt.Errorf("%w: sent %s, reply names %s", ErrUnexpectedReply, action, reply.action)
		}
		if message, failed := declaredError(reply.response); failed {
			return nil, &WidgetReplyError{Message: message}
		}
		return reply.response, nil
	case <-timer.C:
		p.remove(requestID)
		return nil, fmt.Errorf("%s request %s: %w", action, requestID, ErrReplyTimeout)
	case <-ctx.Done():
		p.remove(requestID)
		return nil, ctx.Err()
	}
}

// resolve routes an incoming reply to the sender waiting on its request
// id and removes the pending entry. Reports false when nothing is
// waiting, so the caller can flag the reply as unsolicited. The entry is
// deleted under the lock before the slot send, so a reply arriving after
// timeout cleanup can never resolve twice.
func (p *widgetProxy) resolve(requestID string, reply *widgetReply) bool {
	p.mu.Lock()
	slot, ok := p.pending[requestID]
	if ok {
		delete(p.pending, requestID)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	slot <- reply
	return true
}

// closeAll fails every pending round trip with ErrWidgetDisconnected.
// Called when the session ends so waiters do not sit out their timeouts
// against a widget that is already gone.
func (p *widgetProxy) closeAll() {
	p.mu.Lock()
	for requestID, slot := range p.pending {
		delete(p.pending, requestID)
		close(slot)
	}
	p.mu.Unlock()
}

func (p *widgetProxy) remove(requestID string) {
	p.mu.Lock()
	delete(p.pending, requestID)
	p.mu.Unlock()
}

// roundTrip sends one host-initiated request and decodes the widget's
// success payload as Response.
func roundTrip[Response any](ctx context.Context, p *widgetProxy, action string, data any) (Response, error) {
	var response Response
	raw, err := p.send(ctx, action, mustMarshal(data))
	if err != nil {
		return response, err
	}
	if err := json.Unmarshal(raw, &response); err != nil {
		return response, fmt.Errorf("%w: decoding %s reply: %v", ErrUnexpectedReply, action, err)
	}
	return response, nil
}
