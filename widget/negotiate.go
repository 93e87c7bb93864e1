// Copyright 2026 The Alcove Authors
// SPDX-License-Identifier: Apache-2.0

package widget

import (
	"context"
	"encoding/json"
	"fmt"
)

// startNegotiation begins eager negotiation at session start for
// widgets that do not wait for content_loaded.
func (d *Driver) startNegotiation(ctx context.Context) {
	d.mu.Lock()
	if d.state != stateUninitialized {
		d.mu.Unlock()
		return
	}
	d.state = stateNegotiating
	d.mu.Unlock()

	d.runNegotiation(ctx)
}

// runNegotiation executes one negotiation and settles the session
// state: Initialized with the approved capabilities on success, back to
// Uninitialized on failure so a later content_loaded may retry. The
// caller has already moved the state to Negotiating.
func (d *Driver) runNegotiation(ctx context.Context) {
	approved, err := d.negotiate(ctx)

	d.mu.Lock()
	if d.state == stateNegotiating {
		if err != nil {
			d.state = stateUninitialized
		} else {
			d.state = stateInitialized
			d.caps = approved
		}
	}
	d.mu.Unlock()

	if err != nil {
		d.logger.Warn("capability negotiation failed", "error", err)
		return
	}
	d.logger.Info("capabilities negotiated",
		"read_filters", len(approved.Read),
		"send_filters", len(approved.Send),
		"requires_client", approved.RequiresClient)
}

// negotiate performs the capability handshake: ask the widget what it
// wants, let the arbiter decide, open the live event feed for granted
// reads, and tell the widget what it was granted.
func (d *Driver) negotiate(ctx context.Context) (Capabilities, error) {
	response, err := roundTrip[capabilitiesResponse](ctx, d.proxy, actionCapabilities, struct{}{})
	if err != nil {
		return Capabilities{}, fmt.Errorf("requesting capabilities: %w", err)
	}
	requested := response.Capabilities

	approved, err := d.arbiter.AcquireCapabilities(ctx, requested)
	if err != nil {
		return Capabilities{}, fmt.Errorf("acquiring capabilities: %w", err)
	}

	if len(approved.Read) > 0 {
		events, err := d.room.Subscribe(d.sessionCtx, filterEventTypes(approved.Read))
		if err != nil {
			// Reads through read_events still work; only the live feed
			// is lost.
			d.logger.Error("room subscription failed", "error", err)
		} else {
			go d.forwardEvents(approved.Read, events)
		}
	}

	if _, err := roundTrip[struct{}](ctx, d.proxy, actionNotifyCapabilities, notifyCapabilitiesRequest{
		Requested: requested,
		Approved:  approved,
	}); err != nil {
		d.logger.Warn("notifying approved capabilities failed", "error", err)
	}

	return approved, nil
}

// forwardEvents pushes subscribed room events to the widget as
// send_event requests, in stream order. The subscription is restricted
// by type only, so every event is matched against the approved filters
// before it crosses to the widget.
func (d *Driver) forwardEvents(approved []EventFilter, events <-chan json.RawMessage) {
	for event := range events {
		input, err := filterInputFromEvent(event)
		if err != nil {
			d.logger.Warn("skipping undecodable room event", "error", err)
			continue
		}
		if !anyMatches(approved, input) {
			continue
		}
		if _, err := roundTrip[struct{}](d.sessionCtx, d.proxy, actionSendEvent, event); err != nil {
			d.logger.Warn("forwarding event to widget failed", "error", err)
		}
	}
}
