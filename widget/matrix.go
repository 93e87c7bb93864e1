// Copyright 2026 The Alcove Authors
// SPDX-License-Identifier: Apache-2.0

package widget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alcove-im/alcove/lib/ref"
	"github.com/alcove-im/alcove/messaging"
)

// RoomClient is the room collaborator the driver acts through. All
// side-effecting widget requests funnel into these four operations;
// capability checks happen in the driver before any of them is called.
type RoomClient interface {
	// ReadEvents returns up to limit recent room events of the given
	// type, newest first. The type restriction is best effort on the
	// server side; the driver filters the page again before replying.
	ReadEvents(ctx context.Context, eventType string, limit int) ([]json.RawMessage, error)

	// SendEvent sends a message-like event, or a state event when
	// stateKey is non-nil, and reports where it landed.
	SendEvent(ctx context.Context, eventType string, stateKey *string, content json.RawMessage) (SentEvent, error)

	// OpenIDToken mints an OpenID token bundle proving the session
	// user's identity to third-party services.
	OpenIDToken(ctx context.Context) (OpenIDToken, error)

	// Subscribe opens a live stream of room events, best-effort
	// restricted server side to the given types. The channel closes when
	// ctx ends or the stream fails.
	Subscribe(ctx context.Context, eventTypes []string) (<-chan json.RawMessage, error)
}

// SentEvent identifies an event accepted by the homeserver.
type SentEvent struct {
	RoomID  ref.RoomID
	EventID ref.EventID
}

// OpenIDToken is a minted identity token bundle. ExpiresIn is the token
// lifetime in seconds.
type OpenIDToken struct {
	AccessToken      string
	TokenType        string
	MatrixServerName string
	ExpiresIn        int64
}

// MatrixRoom implements RoomClient over a messaging session bound to one
// room the user has joined.
type MatrixRoom struct {
	session *messaging.Session
	roomID  ref.RoomID
	logger  *slog.Logger
}

// NewMatrixRoom binds a session to a room. A nil logger falls back to
// slog.Default.
func NewMatrixRoom(session *messaging.Session, roomID ref.RoomID, logger *slog.Logger) *MatrixRoom {
	if logger == nil {
		logger = slog.Default()
	}
	return &MatrixRoom{session: session, roomID: roomID, logger: logger}
}

// RoomID returns the room this client is bound to.
func (r *MatrixRoom) RoomID() ref.RoomID {
	return r.roomID
}

func (r *MatrixRoom) ReadEvents(ctx context.Context, eventType string, limit int) ([]json.RawMessage, error) {
	response, err := r.session.RoomMessages(ctx, r.roomID, messaging.RoomMessagesOptions{
		Limit: limit,
		Types: []string{eventType},
	})
	if err != nil {
		return nil, fmt.Errorf("reading room events: %w", err)
	}
	return response.Chunk, nil
}

func (r *MatrixRoom) SendEvent(ctx context.Context, eventType string, stateKey *string, content json.RawMessage) (SentEvent, error) {
	var (
		eventID ref.EventID
		err     error
	)
	if stateKey != nil {
		eventID, err = r.session.SendStateEvent(ctx, r.roomID, ref.EventType(eventType), *stateKey, content)
	} else {
		eventID, err = r.session.SendEvent(ctx, r.roomID, ref.EventType(eventType), content)
	}
	if err != nil {
		return SentEvent{}, err
	}
	return SentEvent{RoomID: r.roomID, EventID: eventID}, nil
}

func (r *MatrixRoom) OpenIDToken(ctx context.Context) (OpenIDToken, error) {
	token, err := r.session.OpenIDToken(ctx)
	if err != nil {
		return OpenIDToken{}, err
	}
	return OpenIDToken{
		AccessToken:      token.AccessToken,
		TokenType:        token.TokenType,
		MatrixServerName: token.MatrixServerName,
		ExpiresIn:        token.ExpiresIn,
	}, nil
}

func (r *MatrixRoom) Subscribe(ctx context.Context, eventTypes []string) (<-chan json.RawMessage, error) {
	watcher, err := messaging.WatchRoom(ctx, r.session, r.roomID, &messaging.SyncFilter{
		TimelineTypes: eventTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("opening room subscription: %w", err)
	}

	raw := make(chan json.RawMessage, 16)
	events := make(chan json.RawMessage, 16)
	go func() {
		defer close(raw)
		if err := watcher.Stream(ctx, raw); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Warn("room subscription ended", "room_id", r.roomID, "error", err)
		}
	}()
	go func() {
		defer close(events)
		for event := range raw {
			select {
			case events <- r.withRoomID(event):
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

// withRoomID stamps the room id onto a sync event. Events from /sync are
// scoped by the response structure and carry no room_id of their own,
// but widgets expect complete timeline events.
func (r *MatrixRoom) withRoomID(event json.RawMessage) json.RawMessage {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(event, &fields); err != nil {
		return event
	}
	fields["room_id"] = mustMarshal(r.roomID)
	return mustMarshal(fields)
}
