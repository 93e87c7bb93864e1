// Copyright 2026 The Alcove Authors
// SPDX-License-Identifier: Apache-2.0

// alcove-host serves Matrix widget sessions over WebSocket.
//
// The host authenticates against a homeserver, binds a WebSocket
// listener, and runs one widget API driver per connection, all against
// a single configured room. An embedding shell loads the widget in an
// iframe and relays its postMessage traffic onto the socket; the driver
// answers it subject to the negotiated capabilities.
//
// Configuration comes from a YAML file (--config or ALCOVE_HOST_CONFIG);
// the listen address and verbosity can be overridden on the command
// line.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/alcove-im/alcove/bridge"
	"github.com/alcove-im/alcove/lib/version"
	"github.com/alcove-im/alcove/messaging"
	"github.com/alcove-im/alcove/widget"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		listenAddr string
		verbose    bool
		showHelp   bool
	)

	flagSet := pflag.NewFlagSet("alcove-host", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to the host config file (YAML)")
	flagSet.StringVarP(&listenAddr, "listen", "l", "", "listen address override (e.g. 127.0.0.1:8794)")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable per-session debug logging")
	flagSet.BoolVarP(&showHelp, "help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("alcove-host %s\n", version.Info())
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if showHelp {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	if configPath == "" {
		configPath = os.Getenv("ALCOVE_HOST_CONFIG")
	}
	if configPath == "" {
		return fmt.Errorf("--config is required (or set ALCOVE_HOST_CONFIG)")
	}
	config, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		config.Listen.Addr = listenAddr
	}

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, config, logger)
}

// serve connects to the homeserver and runs the bridge until the context
// is cancelled.
func serve(ctx context.Context, config *Config, logger *slog.Logger) error {
	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: config.Homeserver.URL,
	})
	if err != nil {
		return err
	}
	session, err := openSession(ctx, client, config.Homeserver)
	if err != nil {
		return err
	}
	logger.Info("homeserver session open",
		"homeserver", config.Homeserver.URL,
		"user_id", session.UserID(),
	)

	roomID, err := resolveRoom(ctx, session, config.Room)
	if err != nil {
		return err
	}
	settings, err := widgetSettings(ctx, session, roomID, config.Widget)
	if err != nil {
		return err
	}
	arbiter, err := newArbiter(config.Capabilities, logger)
	if err != nil {
		return err
	}
	room := widget.NewMatrixRoom(session, roomID, logger)

	b := &bridge.Bridge{
		Addr:           config.Listen.Addr,
		Path:           config.Listen.Path,
		AllowedOrigins: config.Listen.AllowedOrigins,
		Logger:         logger,
		Session: func(ctx context.Context, transport widget.Transport) error {
			driver, err := widget.NewDriver(widget.DriverConfig{
				Settings:  settings,
				Transport: transport,
				Room:      room,
				Arbiter:   arbiter,
				Logger:    logger,
			})
			if err != nil {
				return err
			}
			return driver.Run(ctx)
		},
	}
	if err := b.Start(ctx); err != nil {
		return err
	}
	logger.Info("serving widget sessions",
		"room_id", roomID,
		"widget_id", settings.ID,
		"addr", b.ListenerAddr(),
		"path", config.Listen.Path,
	)

	<-ctx.Done()
	logger.Info("shutting down")
	b.Stop()
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `alcove-host - serve Matrix widget sessions over WebSocket

The host logs into the configured homeserver, binds a WebSocket
listener, and runs one widget API session per connection against a
single room. Point an embedding shell (iframe plus postMessage relay)
at the listener to drive a real widget.

USAGE
    alcove-host --config host.yaml [flags]

FLAGS
%s
CONFIG
    homeserver:
      url: https://matrix.example.org
      user_id: "@host:example.org"
      access_token: "syt_..."       # or username/password
    room: "#widgets:example.org"    # room ID or alias
    widget:
      id: my-widget
      url: "https://widget.example.org/?widgetId=$widgetId&userId=$userId"
      init_on_load: true
    listen:
      addr: 127.0.0.1:8794
      path: /widget
    capabilities:
      allow:
        - "org.matrix.msc2762.receive.event:m.room.message"
        - "org.matrix.msc2762.send.event:m.room.message#m.text"

Set widget.discover: true instead of widget.url to serve a widget
advertised in the room's state.
`, flagSet.FlagUsages())
}
