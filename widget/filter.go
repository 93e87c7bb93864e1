// Copyright 2026 The Alcove Authors
// SPDX-License-Identifier: Apache-2.0

package widget

import (
	"encoding/json"
	"fmt"

	"github.com/alcove-im/alcove/lib/ref"
)

// FilterInput is the candidate shape event filters match against: the
// fields of a room event that capability filters can see. StateKey nil
// means a message-like event. Msgtype is content.msgtype when present,
// meaningful only for m.room.message events.
type FilterInput struct {
	EventType string
	StateKey  *string
	Msgtype   string
}

// filterInputFromEvent extracts the matchable fields from a raw room
// event. An event without a type is not a valid candidate.
func filterInputFromEvent(raw json.RawMessage) (FilterInput, error) {
	var event struct {
		Type     string  `json:"type"`
		StateKey *string `json:"state_key"`
		Content  struct {
			Msgtype string `json:"msgtype"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &event); err != nil {
		return FilterInput{}, err
	}
	if event.Type == "" {
		return FilterInput{}, fmt.Errorf("event has no type")
	}
	return FilterInput{
		EventType: event.Type,
		StateKey:  event.StateKey,
		Msgtype:   event.Content.Msgtype,
	}, nil
}

// filterInputFromSend builds the candidate for an event the widget wants
// to send, so the same filters gate sends and reads.
func filterInputFromSend(request sendEventRequest) FilterInput {
	input := FilterInput{EventType: request.Type, StateKey: request.StateKey}
	var content struct {
		Msgtype string `json:"msgtype"`
	}
	if err := json.Unmarshal(request.Content, &content); err == nil {
		input.Msgtype = content.Msgtype
	}
	return input
}

// EventFilter is one capability filter over room events. The set of
// implementations is closed: the four variants below correspond one to
// one with the MSC2762 capability grammar. Matching is a pure function
// of the filter and the candidate.
type EventFilter interface {
	// Matches reports whether the candidate satisfies this filter.
	Matches(input FilterInput) bool

	// scope renders the filter as the scope segment of its capability
	// string, e.g. "state_event:m.room.topic". Unexported to keep the
	// variant set closed.
	scope() string
}

// MessageLikeWithType matches message-like events with the given type.
type MessageLikeWithType struct {
	EventType string
}

// RoomMessageWithMsgtype matches m.room.message events with the given
// msgtype.
type RoomMessageWithMsgtype struct {
	Msgtype string
}

// StateWithType matches state events with the given type, regardless of
// state key.
type StateWithType struct {
	EventType string
}

// StateWithTypeAndStateKey matches state events with the given type and
// exact state key.
type StateWithTypeAndStateKey struct {
	EventType string
	StateKey  string
}

func (f MessageLikeWithType) Matches(input FilterInput) bool {
	return input.StateKey == nil && input.EventType == f.EventType
}

func (f RoomMessageWithMsgtype) Matches(input FilterInput) bool {
	return input.StateKey == nil &&
		input.EventType == string(ref.RoomMessage) &&
		input.Msgtype == f.Msgtype
}

func (f StateWithType) Matches(input FilterInput) bool {
	return input.StateKey != nil && input.EventType == f.EventType
}

func (f StateWithTypeAndStateKey) Matches(input FilterInput) bool {
	return input.StateKey != nil &&
		input.EventType == f.EventType &&
		*input.StateKey == f.StateKey
}

func (f MessageLikeWithType) scope() string {
	return "event:" + f.EventType
}

func (f RoomMessageWithMsgtype) scope() string {
	return "event:" + string(ref.RoomMessage) + "#" + f.Msgtype
}

func (f StateWithType) scope() string {
	return "state_event:" + f.EventType
}

func (f StateWithTypeAndStateKey) scope() string {
	return "state_event:" + f.EventType + "#" + f.StateKey
}

// anyMatches reports whether any filter in the list matches the
// candidate. An empty list matches nothing.
func anyMatches(filters []EventFilter, input FilterInput) bool {
	for _, filter := range filters {
		if filter.Matches(input) {
			return true
		}
	}
	return false
}

// filterEventTypes returns the distinct event types the filters cover,
// in first-seen order. Used for best-effort server-side restriction of
// reads and subscriptions; it is never a substitute for matching.
func filterEventTypes(filters []EventFilter) []string {
	var types []string
	seen := make(map[string]bool)
	for _, filter := range filters {
		var eventType string
		switch f := filter.(type) {
		case MessageLikeWithType:
			eventType = f.EventType
		case RoomMessageWithMsgtype:
			eventType = string(ref.RoomMessage)
		case StateWithType:
			eventType = f.EventType
		case StateWithTypeAndStateKey:
			eventType = f.EventType
		}
		if eventType != "" && !seen[eventType] {
			seen[eventType] = true
			types = append(types, eventType)
		}
	}
	return types
}
