// Copyright 2026 The Alcove Authors
// SPDX-License-Identifier: Apache-2.0

package widget

import (
	"context"
	"errors"
	"sync"
)

// ErrTransportClosed is returned by Transport methods once the peer is
// gone. The driver treats it as the normal end-of-session signal, not a
// failure.
var ErrTransportClosed = errors.New("widget: transport closed")

// Transport carries raw protocol messages between the driver and one
// widget. Messages are JSON text, one protocol message per call; the
// transport does not interpret them. Implementations must be safe for
// concurrent use: the driver sends replies and host-initiated requests
// from multiple goroutines while the run loop receives.
type Transport interface {
	// Send delivers one raw message to the widget. Returns
	// ErrTransportClosed if the widget is gone.
	Send(ctx context.Context, message []byte) error

	// Receive blocks until the next raw message from the widget arrives.
	// Returns ErrTransportClosed when the transport has closed; the
	// driver exits its loop cleanly on that.
	Receive(ctx context.Context) ([]byte, error)
}

// PipeTransport is one end of an in-process transport pair. It backs
// widgets embedded in the host process (a webview postMessage pump) and
// the driver tests.
type PipeTransport struct {
	send chan<- []byte
	recv <-chan []byte
	done chan struct{}
	once *sync.Once
}

// Pipe returns a connected pair of in-process transports. A message sent
// on one end is received by the other, in order. Closing either end
// closes both.
func Pipe() (*PipeTransport, *PipeTransport) {
	ab := make(chan []byte, 32)
	ba := make(chan []byte, 32)
	done := make(chan struct{})
	once := new(sync.Once)
	a := &PipeTransport{send: ab, recv: ba, done: done, once: once}
	b := &PipeTransport{send: ba, recv: ab, done: done, once: once}
	return a, b
}

func (t *PipeTransport) Send(ctx context.Context, message []byte) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}
	select {
	case t.send <- message:
		return nil
	case <-t.done:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *PipeTransport) Receive(ctx context.Context) ([]byte, error) {
	// Drain buffered messages before reporting the close.
	select {
	case message := <-t.recv:
		return message, nil
	default:
	}
	select {
	case message := <-t.recv:
		return message, nil
	case <-t.done:
		return nil, ErrTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts down both ends of the pair. Safe to call more than once.
func (t *PipeTransport) Close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}
