// Copyright 2026 The Alcove Authors
// SPDX-License-Identifier: Apache-2.0

package widget

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/alcove-im/alcove/lib/ref"
)

// Settings describes one widget: its identity, how capability
// negotiation starts, and the URL template it is served from.
type Settings struct {
	// ID is the widget's unique identifier, stamped on every
	// host-initiated message.
	ID string

	// InitOnLoad defers capability negotiation until the widget sends
	// content_loaded. When false the driver negotiates as soon as the
	// session starts.
	InitOnLoad bool

	// RawURL is the widget URL template. URL substitutes the
	// placeholders $widgetId, $parentUrl, $userId, $roomId, $lang,
	// $fontScale, $analyticsID, $clientId and $theme, e.g.
	// "https://widget.example?username=$userId".
	RawURL string
}

// ClientProperties carries the host-side values a widget URL template
// can embed, so the widget can adapt to the client it runs in.
type ClientProperties struct {
	// ClientID identifies the hosting client, e.g. "io.alcove.host".
	ClientID string
	// LanguageTag is the client's BCP 47 language, e.g. "en-US".
	// Empty defaults to "en-US".
	LanguageTag string
	// Theme names the active theme, e.g. "light" or "dark".
	Theme string
	// FontScale is the client font scale. Zero defaults to 1.
	FontScale float64
	// AnalyticsID lets a trusted widget report to the same analytics
	// provider as the client. Leave empty for widgets that should not
	// be tied to the client's analytics.
	AnalyticsID string
	// ParentURL is the postMessage target the widget answers to:
	// the URL of the hosting app, or "*" for non-web hosts.
	ParentURL string
}

// URL resolves the settings' template into the concrete URL for the
// webview or iframe hosting the widget.
func (s Settings) URL(roomID ref.RoomID, userID ref.UserID, props ClientProperties) (string, error) {
	lang := props.LanguageTag
	if lang == "" {
		lang = "en-US"
	}
	fontScale := props.FontScale
	if fontScale == 0 {
		fontScale = 1
	}
	replacer := strings.NewReplacer(
		"$widgetId", s.ID,
		"$parentUrl", url.QueryEscape(props.ParentURL),
		"$userId", userID.String(),
		"$roomId", url.QueryEscape(roomID.String()),
		"$lang", lang,
		"$fontScale", strconv.FormatFloat(fontScale, 'f', -1, 64),
		"$analyticsID", url.QueryEscape(props.AnalyticsID),
		"$clientId", url.QueryEscape(props.ClientID),
		"$theme", url.QueryEscape(props.Theme),
	)
	resolved := replacer.Replace(s.RawURL)
	if _, err := url.Parse(resolved); err != nil {
		return "", fmt.Errorf("widget: resolved widget URL is invalid: %w", err)
	}
	return resolved, nil
}

// ElementCallOptions configures the virtual Element Call widget built by
// NewElementCallSettings. Boolean options become valueless query flags
// when set, matching what Element Call expects.
type ElementCallOptions struct {
	// BaseURL is the Element Call deployment, e.g.
	// "https://call.element.io". Required.
	BaseURL string
	// WidgetID is the widget identifier. Empty generates a fresh one.
	WidgetID string
	// Embed marks the call as embedded in a client.
	Embed bool
	// HideHeader hides the Element Call branding header.
	HideHeader bool
	// Preload skips the lobby; the widget joins the call on the
	// io.element.join action.
	Preload bool
	// SkipLobby joins the call directly without the device setup
	// screen.
	SkipLobby bool
	// ConfineToRoom disables navigating to other calls from the widget.
	ConfineToRoom bool
	// AppPrompt allows the widget to offer opening the call in the
	// native app.
	AppPrompt bool
	// Fonts overrides the fonts Element Call renders with.
	Fonts []string
	// AnalyticsID is a posthog id passed through to Element Call.
	AnalyticsID string
}

// NewElementCallSettings builds the settings for a virtual Element Call
// widget: a widget that exists only in this client, not in room state.
// The returned settings negotiate eagerly, since Element Call does not
// send content_loaded before negotiating.
func NewElementCallSettings(options ElementCallOptions) (Settings, error) {
	if options.BaseURL == "" {
		return Settings{}, fmt.Errorf("widget: ElementCallOptions.BaseURL is required")
	}
	if _, err := url.Parse(options.BaseURL); err != nil {
		return Settings{}, fmt.Errorf("widget: ElementCallOptions.BaseURL is invalid: %w", err)
	}
	id := options.WidgetID
	if id == "" {
		id = uuid.NewString()
	}

	params := []string{
		"widgetId=$widgetId",
		"parentUrl=$parentUrl",
	}
	if options.Embed {
		params = append(params, "embed=")
	}
	if options.HideHeader {
		params = append(params, "hideHeader=")
	}
	params = append(params,
		"userId=$userId",
		"roomId=$roomId",
		"lang=$lang",
		"theme=$theme",
		"fontScale=$fontScale",
	)
	if options.Preload {
		params = append(params, "preload=")
	}
	if options.SkipLobby {
		params = append(params, "skipLobby=")
	}
	if options.ConfineToRoom {
		params = append(params, "confineToRoom=")
	}
	if options.AppPrompt {
		params = append(params, "appPrompt=")
	}
	for _, font := range options.Fonts {
		params = append(params, "fonts="+url.QueryEscape(font))
	}
	if options.AnalyticsID != "" {
		params = append(params, "analyticsID="+url.QueryEscape(options.AnalyticsID))
	}

	return Settings{
		ID:         id,
		InitOnLoad: false,
		RawURL:     options.BaseURL + "?" + strings.Join(params, "&"),
	}, nil
}

// WidgetStateEventTypes are the state event types rooms use to advertise
// widgets: the stable name and the historical Element one.
var WidgetStateEventTypes = []string{"m.widget", "im.vector.modular.widgets"}

// SettingsFromStateEvent builds Settings from a widget state event. The
// state key is the widget id and content.url the URL template. Removed
// widgets keep their state event with the url cleared; those are
// reported as errors rather than half-formed settings.
func SettingsFromStateEvent(raw json.RawMessage) (Settings, error) {
	var event struct {
		Type     string  `json:"type"`
		StateKey *string `json:"state_key"`
		Content  struct {
			URL string `json:"url"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &event); err != nil {
		return Settings{}, fmt.Errorf("widget: parsing widget state event: %w", err)
	}
	known := false
	for _, eventType := range WidgetStateEventTypes {
		if event.Type == eventType {
			known = true
			break
		}
	}
	if !known {
		return Settings{}, fmt.Errorf("widget: %q is not a widget state event type", event.Type)
	}
	if event.StateKey == nil || *event.StateKey == "" {
		return Settings{}, fmt.Errorf("widget: widget state event has no state key")
	}
	if event.Content.URL == "" {
		return Settings{}, fmt.Errorf("widget: widget %q has no URL", *event.StateKey)
	}
	return Settings{
		ID:         *event.StateKey,
		InitOnLoad: true,
		RawURL:     event.Content.URL,
	}, nil
}
