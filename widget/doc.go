// Copyright 2026 The Alcove Authors
// SPDX-License-Identifier: Apache-2.0

// Package widget implements the client side of the Matrix widget API:
// the protocol engine a host runs to let an embedded web widget interact
// with a room, gated by negotiated capabilities.
//
// A session is one Driver bound to one widget over one Transport. The
// driver answers the widget's requests (API version discovery, load
// notification, OpenID identity, reading and sending room events) and
// issues its own (capability negotiation, event pushes, OpenID
// delivery), with both directions multiplexed over the same duplex
// message stream and correlated by request id.
//
// Security model: a widget starts with no capabilities. On session start
// or on the widget's content_loaded signal, the driver asks the widget
// what it wants, passes the request to a CapabilityArbiter (the
// embedding host's policy, typically a user prompt), and from then on
// every read and send is checked against the approved EventFilter set
// before the RoomClient is touched. Denials are correlated failure
// replies, never dropped messages.
//
// The package is organized around the protocol flow:
//
//   - message.go, actions.go: wire codec for the symmetric JSON envelope
//     and the typed per-action payloads
//   - filter.go, capabilities.go: the MSC2762 capability grammar and the
//     event filters it compiles to
//   - proxy.go: outbound request correlation with per-request timeouts
//   - handler.go, negotiate.go, driver.go: the session state machine,
//     capability negotiation, and the per-session run loop
//   - matrix.go: the RoomClient collaborator and its messaging-backed
//     implementation
//   - settings.go: widget descriptions, URL templating, and the virtual
//     Element Call widget
//   - transport.go: the Transport seam; bridge provides the WebSocket
//     implementation, Pipe the in-process one
package widget
