// Copyright 2026 The Alcove Authors
// SPDX-License-Identifier: Apache-2.0

package widget

import (
	"encoding/json"
	"fmt"
)

// The widget API is symmetric JSON messaging over a single duplex
// transport. Every message carries the same envelope:
//
//	{"api": "fromWidget"|"toWidget", "requestId": "...",
//	 "widgetId": "...", "action": "...", "data": {...}}
//
// A reply is the request envelope echoed back with a "response" field
// added. "fromWidget" names the direction of the request the message
// belongs to, so a reply the driver sends to a widget request still says
// "fromWidget" while a reply the widget sends to a driver request says
// "toWidget". Correlation is solely by requestId.
const (
	apiFromWidget = "fromWidget"
	apiToWidget   = "toWidget"
)

// envelope is the raw wire form of every protocol message.
type envelope struct {
	API       string          `json:"api"`
	RequestID string          `json:"requestId"`
	WidgetID  string          `json:"widgetId"`
	Action    string          `json:"action"`
	Data      json.RawMessage `json:"data,omitempty"`
	Response  json.RawMessage `json:"response,omitempty"`
}

// message is one decoded incoming protocol message. For widget requests
// (api=fromWidget) the payload is decoded into the typed request variant;
// for widget replies (api=toWidget) the raw response body is kept for the
// pending-table owner to interpret.
type message struct {
	api       string
	requestID string
	widgetID  string
	action    string
	data      json.RawMessage
	request   widgetRequest
	response  json.RawMessage
}

// decodeMessage parses and validates one raw message from the widget.
// The returned error carries the parse failure description; the caller
// reports it to the widget out-of-band.
func decodeMessage(raw []byte) (*message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if env.RequestID == "" {
		return nil, fmt.Errorf("message has no requestId")
	}
	if env.Action == "" {
		return nil, fmt.Errorf("message has no action")
	}
	if len(env.Data) == 0 {
		env.Data = json.RawMessage("{}")
	}

	m := &message{
		api:       env.API,
		requestID: env.RequestID,
		widgetID:  env.WidgetID,
		action:    env.Action,
		data:      env.Data,
		response:  env.Response,
	}
	switch env.API {
	case apiFromWidget:
		request, err := decodeWidgetRequest(env.Action, env.Data)
		if err != nil {
			return nil, err
		}
		m.request = request
	case apiToWidget:
		// The widget never initiates toWidget traffic, so an incoming
		// toWidget message must be a reply to one of our requests.
		if !isToWidgetAction(env.Action) {
			return nil, fmt.Errorf("unknown toWidget action %q", env.Action)
		}
		if len(env.Response) == 0 {
			return nil, fmt.Errorf("toWidget reply %q has no response body", env.Action)
		}
	default:
		return nil, fmt.Errorf("unknown api %q", env.API)
	}
	return m, nil
}

// encodeReply renders the correlated reply to a widget request: the
// original envelope echoed with the response body added.
func encodeReply(m *message, response json.RawMessage) []byte {
	return mustMarshal(envelope{
		API:       m.api,
		RequestID: m.requestID,
		WidgetID:  m.widgetID,
		Action:    m.action,
		Data:      m.data,
		Response:  response,
	})
}

// encodeRequest renders one host-initiated request.
func encodeRequest(requestID, widgetID, action string, data json.RawMessage) []byte {
	return mustMarshal(envelope{
		API:       apiToWidget,
		RequestID: requestID,
		WidgetID:  widgetID,
		Action:    action,
		Data:      data,
	})
}

// errorBody is the declared-failure arm of a response body. Success and
// failure share the "response" field; a failure is recognized
// structurally by the presence of error.message.
type errorBody struct {
	Error errorContent `json:"error"`
}

type errorContent struct {
	Message string `json:"message"`
}

// successResponse renders a success response body.
func successResponse(payload any) json.RawMessage {
	return mustMarshal(payload)
}

// errorResponse renders a declared-failure response body.
func errorResponse(message string) json.RawMessage {
	return mustMarshal(errorBody{Error: errorContent{Message: message}})
}

// declaredError extracts the failure message from a reply body. Returns
// ok=false for success payloads.
func declaredError(response json.RawMessage) (string, bool) {
	var probe errorBody
	if err := json.Unmarshal(response, &probe); err != nil {
		return "", false
	}
	if probe.Error.Message == "" {
		return "", false
	}
	return probe.Error.Message, true
}

// outOfBandError is the shape used to report failures that cannot be
// correlated to a live request: undecodable input (requestId null) and
// unsolicited replies (requestId set).
type outOfBandError struct {
	WidgetID  string          `json:"widgetId"`
	RequestID *string         `json:"requestId"`
	Response  json.RawMessage `json:"response"`
}

// encodeOutOfBandError renders an out-of-band error message. requestID
// is nil when the offending input could not be parsed at all.
func encodeOutOfBandError(widgetID string, requestID *string, message string) []byte {
	return mustMarshal(outOfBandError{
		WidgetID:  widgetID,
		RequestID: requestID,
		Response:  errorResponse(message),
	})
}

// mustMarshal marshals a value the package constructed itself. Marshal
// of a well-formed value cannot fail; an error here is a bug.
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("widget: marshal of well-formed value failed: %v", err))
	}
	return data
}
