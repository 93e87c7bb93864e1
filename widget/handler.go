// Copyright 2026 The Alcove Authors
// SPDX-License-Identifier: Apache-2.0

package widget

import (
	"context"
	"encoding/json"
	"fmt"
)

// sessionState tracks a session through its life. Capability checks key
// off it: nothing side-effecting is granted before Initialized.
type sessionState int

const (
	stateUninitialized sessionState = iota
	stateNegotiating
	stateInitialized
	stateDisconnected
)

func (s sessionState) String() string {
	switch s {
	case stateUninitialized:
		return "uninitialized"
	case stateNegotiating:
		return "negotiating"
	case stateInitialized:
		return "initialized"
	case stateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("sessionState(%d)", int(s))
	}
}

// handleRequest serves one widget request. It runs in its own goroutine
// so a slow collaborator call never stalls the receive loop. Every path
// writes exactly one correlated reply.
func (d *Driver) handleRequest(ctx context.Context, m *message) {
	switch request := m.request.(type) {
	case supportedVersionsRequest:
		d.reply(ctx, m, supportedVersionsResponse{Versions: supportedAPIVersions})
	case contentLoadedRequest:
		d.handleContentLoaded(ctx, m)
	case openIDRequest:
		d.handleGetOpenID(ctx, m)
	case readEventsRequest:
		d.handleReadEvents(ctx, m, request)
	case sendEventRequest:
		d.handleSendEvent(ctx, m, request)
	}
}

func (d *Driver) handleContentLoaded(ctx context.Context, m *message) {
	if !d.settings.InitOnLoad {
		// Negotiation already started at session start; the load signal
		// needs no further action.
		d.reply(ctx, m, struct{}{})
		return
	}

	d.mu.Lock()
	if d.state != stateUninitialized {
		d.mu.Unlock()
		d.replyError(ctx, m, "Already loaded")
		return
	}
	d.state = stateNegotiating
	d.mu.Unlock()

	// Ack first: the widget waits for this reply before answering the
	// capabilities request that negotiation opens with.
	d.reply(ctx, m, struct{}{})
	d.runNegotiation(ctx)
}

func (d *Driver) handleGetOpenID(ctx context.Context, m *message) {
	d.reply(ctx, m, openIDCredentials{State: openIDStateRequest})
	go d.pushOpenIDCredentials(m.requestID)
}

// pushOpenIDCredentials fetches an OpenID token and delivers the outcome
// as an openid_credentials push, correlated to the widget's request by
// the original request id. The fetch is not tied to the session context;
// if the widget is gone by the time the token arrives, the push fails
// and is logged.
func (d *Driver) pushOpenIDCredentials(originalRequestID string) {
	ctx, cancel := context.WithTimeout(context.Background(), openIDFetchTimeout)
	defer cancel()

	credentials := openIDCredentials{
		State:             openIDStateBlocked,
		OriginalRequestID: originalRequestID,
	}
	token, err := d.room.OpenIDToken(ctx)
	if err != nil {
		d.logger.Warn("OpenID token fetch failed", "error", err)
	} else {
		credentials = openIDCredentials{
			State:             openIDStateAllowed,
			OriginalRequestID: originalRequestID,
			AccessToken:       token.AccessToken,
			ExpiresIn:         token.ExpiresIn,
			MatrixServerName:  token.MatrixServerName,
			TokenType:         token.TokenType,
		}
	}

	if _, err := roundTrip[struct{}](context.Background(), d.proxy, actionOpenIDCredentials, credentials); err != nil {
		d.logger.Warn("delivering OpenID credentials failed", "error", err)
	}
}

func (d *Driver) handleReadEvents(ctx context.Context, m *message, request readEventsRequest) {
	state, caps := d.snapshot()
	if state != stateInitialized {
		d.replyError(ctx, m, "Capabilities not negotiated")
		return
	}
	if len(caps.Read) == 0 {
		d.replyError(ctx, m, "No permission to read events")
		return
	}

	limit := 50
	if request.StateKey != nil && !request.StateKey.Any {
		limit = 1
	}
	if request.Limit != nil {
		limit = *request.Limit
	}

	candidates, err := d.room.ReadEvents(ctx, request.Type, limit)
	if err != nil {
		d.replyError(ctx, m, fmt.Sprintf("Failed to read events: %v", err))
		return
	}

	// The page is only type-restricted server side. Keep what the
	// approved filters allow, plus the exact state key when the request
	// named one.
	events := make([]json.RawMessage, 0, len(candidates))
	for _, candidate := range candidates {
		input, err := filterInputFromEvent(candidate)
		if err != nil {
			d.logger.Warn("skipping undecodable room event", "error", err)
			continue
		}
		if !anyMatches(caps.Read, input) {
			continue
		}
		if request.StateKey != nil && !request.StateKey.Any {
			if input.StateKey == nil || *input.StateKey != request.StateKey.Key {
				continue
			}
		}
		events = append(events, candidate)
	}
	d.reply(ctx, m, readEventsResponse{Events: events})
}

func (d *Driver) handleSendEvent(ctx context.Context, m *message, request sendEventRequest) {
	state, caps := d.snapshot()
	if state != stateInitialized {
		d.replyError(ctx, m, "Capabilities not negotiated")
		return
	}
	if !anyMatches(caps.Send, filterInputFromSend(request)) {
		d.replyError(ctx, m, "Not allowed")
		return
	}

	sent, err := d.room.SendEvent(ctx, request.Type, request.StateKey, request.Content)
	if err != nil {
		d.replyError(ctx, m, fmt.Sprintf("Failed to send event: %v", err))
		return
	}
	d.reply(ctx, m, sendEventResponse{RoomID: sent.RoomID, EventID: sent.EventID})
}

// reply answers a widget request with a success payload.
func (d *Driver) reply(ctx context.Context, m *message, payload any) {
	d.sendReply(ctx, m, successResponse(payload))
}

// replyError answers a widget request with a declared failure.
func (d *Driver) replyError(ctx context.Context, m *message, message string) {
	d.sendReply(ctx, m, errorResponse(message))
}

func (d *Driver) sendReply(ctx context.Context, m *message, response json.RawMessage) {
	if err := d.transport.Send(ctx, encodeReply(m, response)); err != nil {
		d.logger.Info("dropping reply, widget disconnected",
			"request_id", m.requestID, "action", m.action)
	}
}
