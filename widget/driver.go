// Copyright 2026 The Alcove Authors
// SPDX-License-Identifier: Apache-2.0

package widget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// openIDFetchTimeout bounds the token fetch behind get_openid. The
// protocol sets no bound for the asynchronous follow-up, so the fetch
// context is capped here and the push itself by the proxy's reply
// timeout.
const openIDFetchTimeout = 30 * time.Second

// DriverConfig assembles a widget session.
type DriverConfig struct {
	// Settings identify the widget and choose when negotiation starts.
	Settings Settings

	// Transport carries raw protocol messages to and from the widget.
	Transport Transport

	// Room performs the Matrix-side work for granted widget requests.
	Room RoomClient

	// Arbiter decides which requested capabilities are granted.
	Arbiter CapabilityArbiter

	// ReplyTimeout bounds host-initiated round trips. Zero means
	// DefaultReplyTimeout.
	ReplyTimeout time.Duration

	// Logger receives session logs. Nil means slog.Default().
	Logger *slog.Logger
}

// Driver runs the client side of the widget API for one widget session:
// it answers the widget's requests subject to negotiated capabilities,
// and issues the host's own requests (negotiation, event pushes, OpenID
// delivery) through the outbound correlator.
type Driver struct {
	settings  Settings
	transport Transport
	room      RoomClient
	arbiter   CapabilityArbiter
	logger    *slog.Logger
	proxy     *widgetProxy

	mu         sync.Mutex
	state      sessionState
	caps       Capabilities
	started    bool
	sessionCtx context.Context
}

// NewDriver validates the configuration and builds a driver. The session
// does not touch the transport until Run.
func NewDriver(config DriverConfig) (*Driver, error) {
	if config.Settings.ID == "" {
		return nil, fmt.Errorf("widget: Settings.ID is required")
	}
	if config.Transport == nil {
		return nil, fmt.Errorf("widget: Transport is required")
	}
	if config.Room == nil {
		return nil, fmt.Errorf("widget: Room is required")
	}
	if config.Arbiter == nil {
		return nil, fmt.Errorf("widget: Arbiter is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("widget_id", config.Settings.ID)

	return &Driver{
		settings:  config.Settings,
		transport: config.Transport,
		room:      config.Room,
		arbiter:   config.Arbiter,
		logger:    logger,
		proxy:     newWidgetProxy(config.Settings.ID, config.Transport, config.ReplyTimeout, logger),
	}, nil
}

// Run drives the session until the transport closes or ctx is
// cancelled. A transport close is the normal end of a session and
// returns nil. Run may be called once per driver.
func (d *Driver) Run(ctx context.Context) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("widget: driver already ran")
	}
	d.started = true
	d.sessionCtx = sessionCtx
	d.mu.Unlock()

	defer d.proxy.closeAll()
	defer d.setState(stateDisconnected)

	// Eager negotiation runs off the loop: the capabilities round trip
	// completes only once the loop below is consuming replies.
	if !d.settings.InitOnLoad {
		go d.startNegotiation(ctx)
	}

	for {
		raw, err := d.transport.Receive(ctx)
		if err != nil {
			if errors.Is(err, ErrTransportClosed) {
				d.logger.Debug("widget transport closed")
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("widget: receiving from widget: %w", err)
		}

		m, err := decodeMessage(raw)
		if err != nil {
			d.logger.Warn("undecodable widget message", "error", err)
			d.sendOutOfBand(ctx, nil, err.Error())
			continue
		}

		switch m.api {
		case apiFromWidget:
			go d.handleRequest(ctx, m)
		case apiToWidget:
			reply := &widgetReply{action: m.action, response: m.response}
			if !d.proxy.resolve(m.requestID, reply) {
				d.logger.Warn("unsolicited reply from widget",
					"request_id", m.requestID, "action", m.action)
				requestID := m.requestID
				d.sendOutOfBand(ctx, &requestID, "Unexpected response from a widget")
			}
		}
	}
}

func (d *Driver) setState(state sessionState) {
	d.mu.Lock()
	d.state = state
	d.mu.Unlock()
}

// snapshot returns the session state and capabilities as one consistent
// pair.
func (d *Driver) snapshot() (sessionState, Capabilities) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state, d.caps
}

// sendOutOfBand reports a failure that cannot be delivered as a
// correlated reply: undecodable input (nil requestID) or an unsolicited
// reply.
func (d *Driver) sendOutOfBand(ctx context.Context, requestID *string, message string) {
	if err := d.transport.Send(ctx, encodeOutOfBandError(d.settings.ID, requestID, message)); err != nil {
		d.logger.Debug("dropping out-of-band error, widget disconnected", "error", err)
	}
}
