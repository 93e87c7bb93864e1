// Copyright 2026 The Alcove Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alcove-im/alcove/lib/ref"
	"github.com/alcove-im/alcove/messaging"
	"github.com/alcove-im/alcove/widget"
)

// openSession authenticates against the homeserver, resuming the
// configured access token when present and logging in with a password
// otherwise.
func openSession(ctx context.Context, client *messaging.Client, config HomeserverConfig) (*messaging.Session, error) {
	if config.AccessToken != "" {
		userID, err := ref.ParseUserID(config.UserID)
		if err != nil {
			return nil, fmt.Errorf("homeserver.user_id: %w", err)
		}
		session := client.SessionFromToken(userID, config.AccessToken)
		// A whoami round trip catches revoked tokens at startup rather
		// than on the first widget request.
		if _, err := session.WhoAmI(ctx); err != nil {
			return nil, fmt.Errorf("verifying access token: %w", err)
		}
		return session, nil
	}
	session, err := client.Login(ctx, config.Username, config.Password)
	if err != nil {
		return nil, fmt.Errorf("logging in as %s: %w", config.Username, err)
	}
	return session, nil
}

// resolveRoom turns the configured room reference into a room ID,
// resolving aliases through the directory.
func resolveRoom(ctx context.Context, session *messaging.Session, room string) (ref.RoomID, error) {
	if strings.HasPrefix(room, "#") {
		alias, err := ref.ParseRoomAlias(room)
		if err != nil {
			return ref.RoomID{}, fmt.Errorf("room: %w", err)
		}
		roomID, err := session.ResolveAlias(ctx, alias)
		if err != nil {
			return ref.RoomID{}, fmt.Errorf("resolving %s: %w", room, err)
		}
		return roomID, nil
	}
	roomID, err := ref.ParseRoomID(room)
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("room: %w", err)
	}
	return roomID, nil
}

// widgetSettings builds the widget settings from the config, reading the
// room's widget state events when discovery is enabled.
func widgetSettings(ctx context.Context, session *messaging.Session, roomID ref.RoomID, config WidgetConfig) (widget.Settings, error) {
	if !config.Discover {
		return widget.Settings{
			ID:         config.ID,
			InitOnLoad: config.InitOnLoad,
			RawURL:     config.URL,
		}, nil
	}

	state, err := session.GetRoomState(ctx, roomID)
	if err != nil {
		return widget.Settings{}, fmt.Errorf("reading room state for widget discovery: %w", err)
	}
	var found []widget.Settings
	for _, event := range state {
		settings, err := widget.SettingsFromStateEvent(event)
		if err != nil {
			continue
		}
		if config.ID != "" && settings.ID != config.ID {
			continue
		}
		found = append(found, settings)
	}
	switch {
	case len(found) == 0 && config.ID != "":
		return widget.Settings{}, fmt.Errorf("widget %q not found in room %s", config.ID, roomID)
	case len(found) == 0:
		return widget.Settings{}, fmt.Errorf("room %s advertises no widgets", roomID)
	case len(found) > 1:
		ids := make([]string, len(found))
		for i, settings := range found {
			ids[i] = settings.ID
		}
		return widget.Settings{}, fmt.Errorf("room %s advertises several widgets (%s); set widget.id to pick one",
			roomID, strings.Join(ids, ", "))
	}
	return found[0], nil
}

// newArbiter builds the capability arbiter from the configured grant
// policy.
func newArbiter(config CapabilityConfig, logger *slog.Logger) (widget.CapabilityArbiter, error) {
	if config.ApproveAll {
		return widget.ArbiterFunc(func(ctx context.Context, requested widget.Capabilities) (widget.Capabilities, error) {
			logger.Info("granting all requested capabilities")
			return requested, nil
		}), nil
	}
	allowed, err := parseAllowList(config.Allow)
	if err != nil {
		return nil, err
	}
	return widget.ArbiterFunc(func(ctx context.Context, requested widget.Capabilities) (widget.Capabilities, error) {
		approved := requested.Intersect(allowed)
		logger.Info("capability grant decided",
			"requested", len(requested.Read)+len(requested.Send),
			"approved", len(approved.Read)+len(approved.Send),
		)
		return approved, nil
	}), nil
}

// parseAllowList parses the configured capability strings. Unlike the
// wire decoder, which skips capability strings it does not understand,
// a config entry that parses to nothing is an error: a typo here would
// otherwise silently withhold a grant.
func parseAllowList(allow []string) (widget.Capabilities, error) {
	for _, capability := range allow {
		single, err := json.Marshal([]string{capability})
		if err != nil {
			return widget.Capabilities{}, err
		}
		var probe widget.Capabilities
		if err := json.Unmarshal(single, &probe); err != nil {
			return widget.Capabilities{}, err
		}
		if probe.IsEmpty() {
			return widget.Capabilities{}, fmt.Errorf("capabilities.allow: unknown capability %q", capability)
		}
	}
	list, err := json.Marshal(allow)
	if err != nil {
		return widget.Capabilities{}, err
	}
	var allowed widget.Capabilities
	if err := json.Unmarshal(list, &allowed); err != nil {
		return widget.Capabilities{}, err
	}
	return allowed, nil
}
