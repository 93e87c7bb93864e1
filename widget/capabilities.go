// Copyright 2026 The Alcove Authors
// SPDX-License-Identifier: Apache-2.0

package widget

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/alcove-im/alcove/lib/ref"
)

// Capability string grammar: a direction prefix followed by a filter
// scope. The scope is "event:<type>" for message-like events, with an
// optional "#<msgtype>" suffix on m.room.message, and
// "state_event:<type>" with an optional "#<state_key>" suffix for state
// events.
const (
	capabilityReceivePrefix  = "org.matrix.msc2762.receive."
	capabilitySendPrefix     = "org.matrix.msc2762.send."
	capabilityRequiresClient = "io.element.requires_client"
)

// Capabilities is the permission set a widget requests and a host
// grants: which room events the widget may observe, which it may send,
// and whether it insists on running inside the client rather than a
// separate browser.
//
// On the wire Capabilities is a flat list of capability strings. Unknown
// strings are skipped on unmarshal so widgets speaking newer revisions
// still negotiate the subset this host understands.
type Capabilities struct {
	Read           []EventFilter
	Send           []EventFilter
	RequiresClient bool
}

// IsEmpty reports whether no capability is set.
func (c Capabilities) IsEmpty() bool {
	return len(c.Read) == 0 && len(c.Send) == 0 && !c.RequiresClient
}

func (c Capabilities) MarshalJSON() ([]byte, error) {
	capabilities := make([]string, 0, len(c.Read)+len(c.Send)+1)
	if c.RequiresClient {
		capabilities = append(capabilities, capabilityRequiresClient)
	}
	for _, filter := range c.Read {
		capabilities = append(capabilities, capabilityReceivePrefix+filter.scope())
	}
	for _, filter := range c.Send {
		capabilities = append(capabilities, capabilitySendPrefix+filter.scope())
	}
	return json.Marshal(capabilities)
}

func (c *Capabilities) UnmarshalJSON(data []byte) error {
	var capabilities []string
	if err := json.Unmarshal(data, &capabilities); err != nil {
		return err
	}
	parsed := Capabilities{}
	for _, capability := range capabilities {
		switch {
		case capability == capabilityRequiresClient:
			parsed.RequiresClient = true
		case strings.HasPrefix(capability, capabilityReceivePrefix):
			if filter, ok := parseFilterScope(strings.TrimPrefix(capability, capabilityReceivePrefix)); ok {
				parsed.Read = append(parsed.Read, filter)
			}
		case strings.HasPrefix(capability, capabilitySendPrefix):
			if filter, ok := parseFilterScope(strings.TrimPrefix(capability, capabilitySendPrefix)); ok {
				parsed.Send = append(parsed.Send, filter)
			}
		}
	}
	*c = parsed
	return nil
}

// parseFilterScope parses the scope segment of a capability string into
// its filter variant. Scopes that fit no variant report ok=false and are
// skipped by the caller.
func parseFilterScope(scope string) (EventFilter, bool) {
	kind, rest, found := strings.Cut(scope, ":")
	if !found || rest == "" {
		return nil, false
	}
	eventType, suffix, hasSuffix := strings.Cut(rest, "#")
	switch kind {
	case "event":
		if hasSuffix {
			if eventType != string(ref.RoomMessage) {
				return nil, false
			}
			return RoomMessageWithMsgtype{Msgtype: suffix}, true
		}
		return MessageLikeWithType{EventType: eventType}, true
	case "state_event":
		if hasSuffix {
			return StateWithTypeAndStateKey{EventType: eventType, StateKey: suffix}, true
		}
		return StateWithType{EventType: eventType}, true
	default:
		return nil, false
	}
}

// Intersect returns the subset of c covered by allowed: each filter in c
// is kept when some filter in allowed admits at least everything it
// admits, and RequiresClient survives only when both sides carry it.
// Use this to build arbiters from a static policy set.
func (c Capabilities) Intersect(allowed Capabilities) Capabilities {
	return Capabilities{
		Read:           coveredFilters(c.Read, allowed.Read),
		Send:           coveredFilters(c.Send, allowed.Send),
		RequiresClient: c.RequiresClient && allowed.RequiresClient,
	}
}

func coveredFilters(requested, allowed []EventFilter) []EventFilter {
	var kept []EventFilter
	for _, filter := range requested {
		for _, grant := range allowed {
			if covers(grant, filter) {
				kept = append(kept, filter)
				break
			}
		}
	}
	return kept
}

// covers reports whether every event admitted by narrow is admitted by
// broad. Besides identical filters, a bare event type covers its
// msgtype- or state-key-qualified refinements.
func covers(broad, narrow EventFilter) bool {
	if broad == narrow {
		return true
	}
	switch b := broad.(type) {
	case MessageLikeWithType:
		if _, ok := narrow.(RoomMessageWithMsgtype); ok {
			return b.EventType == string(ref.RoomMessage)
		}
	case StateWithType:
		if n, ok := narrow.(StateWithTypeAndStateKey); ok {
			return b.EventType == n.EventType
		}
	}
	return false
}

// CapabilityArbiter decides which of the capabilities a widget requested
// it is actually granted. Implementations may block indefinitely, for
// example on a user prompt; the driver calls AcquireCapabilities off the
// receive loop and without holding locks.
type CapabilityArbiter interface {
	AcquireCapabilities(ctx context.Context, requested Capabilities) (Capabilities, error)
}

// ArbiterFunc adapts a function to the CapabilityArbiter interface.
type ArbiterFunc func(ctx context.Context, requested Capabilities) (Capabilities, error)

func (f ArbiterFunc) AcquireCapabilities(ctx context.Context, requested Capabilities) (Capabilities, error) {
	return f(ctx, requested)
}
