// Copyright 2026 The Alcove Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides small network and HTTP I/O helpers shared by the
// Matrix client and the widget transport bridge.
//
// The response helpers (ReadResponse, DecodeResponse, ErrorBody) bound every
// body read at MaxResponseSize so a misbehaving homeserver cannot make the
// host allocate without limit. They are meant for JSON API responses, not for
// streaming or large binary transfers.
//
// IsExpectedCloseError classifies the errors a bridge sees when the peer
// disconnects mid-read or mid-write during normal teardown.
package netutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// MaxResponseSize bounds JSON API response body reads: 256 MB. Real responses
// are orders of magnitude smaller; the limit only exists so a pathological
// response cannot exhaust memory.
const MaxResponseSize int64 = 256 << 20

// ReadResponse reads a JSON API response body up to MaxResponseSize bytes.
// Use instead of io.ReadAll when reading HTTP response bodies.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a JSON API response body (up to MaxResponseSize bytes)
// and JSON-decodes it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody reads an HTTP error response body and returns it as a string for
// diagnostic error messages. Read errors are ignored; a partial or empty body
// is still useful in an error message.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxResponseSize))
	return string(data)
}

// IsExpectedCloseError reports whether err is a normal connection
// termination: EOF, closed connection, broken pipe, or connection reset.
// When one end of a bridge disconnects, the surviving end's in-flight read
// or write fails with one of these; none of them should be logged as errors.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
