// Copyright 2026 The Alcove Authors
// SPDX-License-Identifier: Apache-2.0

package widget

import (
	"errors"
	"fmt"
)

// Sentinel errors for outbound request round trips. Callers branch with
// errors.Is.
var (
	// ErrWidgetDisconnected reports that the transport to the widget is
	// closed or a write to it failed. Terminal for the call; the session
	// loop itself ends cleanly when its receive side closes.
	ErrWidgetDisconnected = errors.New("widget: widget disconnected")

	// ErrReplyTimeout reports that the widget did not answer a
	// host-initiated request within the reply timeout. The pending entry
	// is gone; a late reply is treated as unsolicited.
	ErrReplyTimeout = errors.New("widget: timed out waiting for widget reply")

	// ErrUnexpectedReply reports a reply whose action kind does not match
	// the request it answers, or whose payload cannot be decoded.
	ErrUnexpectedReply = errors.New("widget: unexpected reply from widget")
)

// WidgetReplyError is a failure the widget itself declared in a reply
// body. The message is the widget's own description, verbatim.
type WidgetReplyError struct {
	Message string
}

func (e *WidgetReplyError) Error() string {
	return fmt.Sprintf("widget: widget replied with an error: %s", e.Message)
}
