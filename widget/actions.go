// Copyright 2026 The Alcove Authors
// SPDX-License-Identifier: Apache-2.0

package widget

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/alcove-im/alcove/lib/ref"
)

// Action tags, exact wire names. send_event appears in both directions:
// widget-initiated to send an event into the room, host-initiated to push
// a subscribed room event to the widget.
const (
	actionSupportedAPIVersions = "supported_api_versions"
	actionContentLoaded        = "content_loaded"
	actionGetOpenID            = "get_openid"
	actionSendEvent            = "send_event"
	actionReadEvents           = "read_events"

	actionCapabilities       = "capabilities"
	actionNotifyCapabilities = "notify_capabilities"
	actionOpenIDCredentials  = "openid_credentials"
)

func isToWidgetAction(action string) bool {
	switch action {
	case actionCapabilities, actionNotifyCapabilities, actionOpenIDCredentials, actionSendEvent:
		return true
	}
	return false
}

// supportedAPIVersions is the fixed list answered to
// supported_api_versions. The entries are a compatibility contract with
// deployed widgets; do not reorder or extend without checking the
// counterpart widget library.
var supportedAPIVersions = []string{
	"0.0.1",
	"0.0.2",
	"org.matrix.msc2762",
	"org.matrix.msc2871",
	"org.matrix.msc3819",
}

// widgetRequest is one decoded widget-initiated request payload. The set
// is closed: exactly one variant per fromWidget action, dispatched by
// type switch in the handler.
type widgetRequest interface {
	isWidgetRequest()
}

type supportedVersionsRequest struct{}

type contentLoadedRequest struct{}

type openIDRequest struct{}

// sendEventRequest asks the driver to send an event into the room on the
// widget's behalf. StateKey nil means a message-like event.
type sendEventRequest struct {
	Type     string          `json:"type"`
	StateKey *string         `json:"state_key,omitempty"`
	Content  json.RawMessage `json:"content"`
}

// readEventsRequest asks for recent room events. StateKey nil means
// message-like events; otherwise the selector names either a specific
// state key or any.
type readEventsRequest struct {
	Type     string            `json:"type"`
	StateKey *stateKeySelector `json:"state_key,omitempty"`
	Limit    *int              `json:"limit,omitempty"`
}

func (supportedVersionsRequest) isWidgetRequest() {}
func (contentLoadedRequest) isWidgetRequest()     {}
func (openIDRequest) isWidgetRequest()            {}
func (sendEventRequest) isWidgetRequest()         {}
func (readEventsRequest) isWidgetRequest()        {}

// decodeWidgetRequest decodes the data payload of a fromWidget request
// into its typed variant. Unknown actions and structurally invalid
// payloads are decode errors, reported out-of-band like any other
// undecodable input.
func decodeWidgetRequest(action string, data json.RawMessage) (widgetRequest, error) {
	switch action {
	case actionSupportedAPIVersions:
		return supportedVersionsRequest{}, nil
	case actionContentLoaded:
		return contentLoadedRequest{}, nil
	case actionGetOpenID:
		return openIDRequest{}, nil
	case actionSendEvent:
		var request sendEventRequest
		if err := json.Unmarshal(data, &request); err != nil {
			return nil, fmt.Errorf("invalid send_event request: %w", err)
		}
		if request.Type == "" {
			return nil, fmt.Errorf("send_event request has no type")
		}
		return request, nil
	case actionReadEvents:
		var request readEventsRequest
		if err := json.Unmarshal(data, &request); err != nil {
			return nil, fmt.Errorf("invalid read_events request: %w", err)
		}
		if request.Type == "" {
			return nil, fmt.Errorf("read_events request has no type")
		}
		return request, nil
	default:
		return nil, fmt.Errorf("unknown fromWidget action %q", action)
	}
}

// stateKeySelector is the read_events state_key field: the JSON literal
// true selects any state key, a string selects one exact key.
type stateKeySelector struct {
	Any bool
	Key string
}

func (s stateKeySelector) MarshalJSON() ([]byte, error) {
	if s.Any {
		return []byte("true"), nil
	}
	return json.Marshal(s.Key)
}

func (s *stateKeySelector) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("true")) {
		*s = stateKeySelector{Any: true}
		return nil
	}
	var key string
	if err := json.Unmarshal(data, &key); err != nil {
		return fmt.Errorf("state_key must be true or a string: %w", err)
	}
	*s = stateKeySelector{Key: key}
	return nil
}

// Reply payloads for widget-initiated requests.

type supportedVersionsResponse struct {
	Versions []string `json:"supported_versions"`
}

type sendEventResponse struct {
	RoomID  ref.RoomID  `json:"room_id"`
	EventID ref.EventID `json:"event_id"`
}

type readEventsResponse struct {
	Events []json.RawMessage `json:"events"`
}

// openIDCredentials is the OpenID handshake payload, used both as the
// immediate get_openid reply and as the data of the openid_credentials
// follow-up push. The state tag selects which of the optional fields are
// meaningful.
type openIDCredentials struct {
	State             openIDState `json:"state"`
	OriginalRequestID string      `json:"original_request_id,omitempty"`
	AccessToken       string      `json:"access_token,omitempty"`
	ExpiresIn         int64       `json:"expires_in,omitempty"`
	MatrixServerName  string      `json:"matrix_server_name,omitempty"`
	TokenType         string      `json:"token_type,omitempty"`
}

type openIDState string

const (
	// openIDStateRequest is the immediate reply: the token fetch is
	// running, a follow-up push will carry the outcome.
	openIDStateRequest openIDState = "request"
	// openIDStateAllowed carries the minted token bundle, correlated to
	// the widget's request by OriginalRequestID.
	openIDStateAllowed openIDState = "allowed"
	// openIDStateBlocked reports that no token could be minted.
	openIDStateBlocked openIDState = "blocked"
)

// Payloads for host-initiated requests.

type capabilitiesResponse struct {
	Capabilities Capabilities `json:"capabilities"`
}

type notifyCapabilitiesRequest struct {
	Requested Capabilities `json:"requested"`
	Approved  Capabilities `json:"approved"`
}
