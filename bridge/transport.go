// Copyright 2026 The Alcove Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/coder/websocket"

	"github.com/alcove-im/alcove/lib/netutil"
	"github.com/alcove-im/alcove/widget"
)

// maxMessageSize bounds a single widget API message. Event payloads are
// capped at 64 KiB by the homeserver, so 1 MiB leaves generous room for
// envelope overhead.
const maxMessageSize = 1 << 20

// wsTransport adapts a WebSocket connection to widget.Transport. Widget
// API messages map one-to-one onto text frames.
//
// Sends are safe for concurrent use; the connection serializes frames
// internally. Receive must only be called from a single goroutine,
// which matches the driver's single receive loop.
type wsTransport struct {
	conn *websocket.Conn
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) Send(ctx context.Context, message []byte) error {
	if err := t.conn.Write(ctx, websocket.MessageText, message); err != nil {
		return transportError(err)
	}
	return nil
}

func (t *wsTransport) Receive(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		return nil, transportError(err)
	}
	return data, nil
}

// transportError maps connection teardown onto widget.ErrTransportClosed
// so the driver ends the session cleanly. Context errors and anything
// unrecognized pass through unchanged.
func transportError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case websocket.CloseStatus(err) != -1, netutil.IsExpectedCloseError(err):
		return fmt.Errorf("%w: %v", widget.ErrTransportClosed, err)
	default:
		return err
	}
}
