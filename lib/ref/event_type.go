// Copyright 2026 The Alcove Authors
// SPDX-License-Identifier: Apache-2.0

package ref

// EventType identifies a Matrix state or timeline event type, such as
// "m.room.message" or "m.room.topic".
//
// EventType is a named string type, not a struct wrapper: event types
// are opaque identifiers that need no parsing or validation. The type
// exists for compile-time safety, preventing accidental use of a state
// key or a message type where an event type is expected.
type EventType string

// String returns the event type string.
func (t EventType) String() string { return string(t) }

// Standard Matrix event types used across the module.
const (
	RoomMessage EventType = "m.room.message"
	RoomTopic   EventType = "m.room.topic"
	RoomName    EventType = "m.room.name"
	RoomMember  EventType = "m.room.member"
)
