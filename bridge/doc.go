// Copyright 2026 The Alcove Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge serves widget sessions over WebSocket.
//
// A Bridge listens on a TCP address, upgrades incoming HTTP requests to
// WebSocket connections, and hands each connection to a SessionFunc as
// a widget.Transport. Widget API messages map one-to-one onto text
// frames, so a browser-hosted widget can speak the protocol directly
// over the socket.
//
// The typical session function builds a widget.Driver around the
// transport and runs it:
//
//	b := &bridge.Bridge{
//		Addr: "127.0.0.1:8794",
//		Session: func(ctx context.Context, transport widget.Transport) error {
//			driver, err := widget.NewDriver(widget.DriverConfig{
//				Settings:  settings,
//				Transport: transport,
//				Room:      room,
//				Arbiter:   arbiter,
//			})
//			if err != nil {
//				return err
//			}
//			return driver.Run(ctx)
//		},
//	}
//
// Start binds the listener and accepts connections in a background
// goroutine. Stop cancels all running sessions and blocks until they
// drain; Wait blocks until the bridge has stopped. ListenerAddr returns
// the bound address, which may use an ephemeral port if port 0 was
// requested.
package bridge
