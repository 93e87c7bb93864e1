// Copyright 2026 The Alcove Authors
// SPDX-License-Identifier: Apache-2.0

package widget

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alcove-im/alcove/lib/ref"
	"github.com/alcove-im/alcove/lib/testutil"
	"github.com/alcove-im/alcove/messaging"
)

// testRoom builds a MatrixRoom backed by an httptest homeserver.
func testRoom(t *testing.T, handler http.HandlerFunc) *MatrixRoom {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := messaging.NewClient(messaging.ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	session := client.SessionFromToken(ref.MustParseUserID("@host:test.local"), "syt_host_token")
	return NewMatrixRoom(session, ref.MustParseRoomID("!observed:test.local"), discardLogger())
}

func TestMatrixRoomReadEvents(t *testing.T) {
	page := []json.RawMessage{
		json.RawMessage(`{"type":"m.room.message","content":{"body":"one"}}`),
		json.RawMessage(`{"type":"m.room.message","content":{"body":"two"}}`),
	}
	room := testRoom(t, func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodGet {
			t.Errorf("unexpected method: %s", request.Method)
		}
		if request.URL.Path != "/_matrix/client/v3/rooms/!observed:test.local/messages" {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		query := request.URL.Query()
		if got := query.Get("dir"); got != "b" {
			t.Errorf("unexpected dir: %q", got)
		}
		if got := query.Get("limit"); got != "50" {
			t.Errorf("unexpected limit: %q", got)
		}
		if got := query.Get("filter"); got != `{"types":["m.room.message"]}` {
			t.Errorf("unexpected filter: %q", got)
		}
		writer.Header().Set("Content-Type", "application/json")
		json.NewEncoder(writer).Encode(messaging.RoomMessagesResponse{
			Start: "t1",
			End:   "t2",
			Chunk: page,
		})
	})

	events, err := room.ReadEvents(context.Background(), "m.room.message", 50)
	if err != nil {
		t.Fatalf("ReadEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if !jsonEqual(t, events[0], page[0]) {
		t.Errorf("first event mangled: %s", events[0])
	}
}

func TestMatrixRoomReadEventsServerError(t *testing.T) {
	room := testRoom(t, func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(http.StatusForbidden)
		writer.Write([]byte(`{"errcode":"M_FORBIDDEN","error":"not in room"}`))
	})

	_, err := room.ReadEvents(context.Background(), "m.room.message", 10)
	if err == nil {
		t.Fatal("expected error from forbidden read")
	}
	if !messaging.IsMatrixError(err, "M_FORBIDDEN") {
		t.Fatalf("expected M_FORBIDDEN to survive wrapping, got %v", err)
	}
}

func TestMatrixRoomSendMessageEvent(t *testing.T) {
	content := json.RawMessage(`{"msgtype":"m.text","body":"hello"}`)
	room := testRoom(t, func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPut {
			t.Errorf("unexpected method: %s", request.Method)
		}
		prefix := "/_matrix/client/v3/rooms/!observed:test.local/send/m.room.message/"
		if !strings.HasPrefix(request.URL.Path, prefix) {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		if txn := strings.TrimPrefix(request.URL.Path, prefix); txn == "" {
			t.Error("expected a transaction ID in the path")
		}
		body, _ := io.ReadAll(request.Body)
		if !jsonEqual(t, body, content) {
			t.Errorf("unexpected body: %s", body)
		}
		writer.Header().Set("Content-Type", "application/json")
		json.NewEncoder(writer).Encode(messaging.SendEventResponse{
			EventID: ref.MustParseEventID("$accepted:test.local"),
		})
	})

	sent, err := room.SendEvent(context.Background(), "m.room.message", nil, content)
	if err != nil {
		t.Fatalf("SendEvent failed: %v", err)
	}
	if sent.RoomID.String() != "!observed:test.local" {
		t.Errorf("unexpected room ID: %s", sent.RoomID)
	}
	if sent.EventID.String() != "$accepted:test.local" {
		t.Errorf("unexpected event ID: %s", sent.EventID)
	}
}

func TestMatrixRoomSendStateEvent(t *testing.T) {
	content := json.RawMessage(`{"name":"Budget call"}`)
	room := testRoom(t, func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPut {
			t.Errorf("unexpected method: %s", request.Method)
		}
		if request.URL.Path != "/_matrix/client/v3/rooms/!observed:test.local/state/m.widget/w1" {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		writer.Header().Set("Content-Type", "application/json")
		json.NewEncoder(writer).Encode(messaging.SendEventResponse{
			EventID: ref.MustParseEventID("$state:test.local"),
		})
	})

	stateKey := "w1"
	sent, err := room.SendEvent(context.Background(), "m.widget", &stateKey, content)
	if err != nil {
		t.Fatalf("SendEvent failed: %v", err)
	}
	if sent.EventID.String() != "$state:test.local" {
		t.Errorf("unexpected event ID: %s", sent.EventID)
	}
}

func TestMatrixRoomOpenIDToken(t *testing.T) {
	room := testRoom(t, func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", request.Method)
		}
		if request.URL.Path != "/_matrix/client/v3/user/@host:test.local/openid/request_token" {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		writer.Header().Set("Content-Type", "application/json")
		json.NewEncoder(writer).Encode(messaging.OpenIDTokenResponse{
			AccessToken:      "opaque-openid-token",
			TokenType:        "Bearer",
			MatrixServerName: "test.local",
			ExpiresIn:        3600,
		})
	})

	token, err := room.OpenIDToken(context.Background())
	if err != nil {
		t.Fatalf("OpenIDToken failed: %v", err)
	}
	want := OpenIDToken{
		AccessToken:      "opaque-openid-token",
		TokenType:        "Bearer",
		MatrixServerName: "test.local",
		ExpiresIn:        3600,
	}
	if token != want {
		t.Errorf("unexpected token: %+v", token)
	}
}

func TestMatrixRoomSubscribe(t *testing.T) {
	roomID := ref.MustParseRoomID("!observed:test.local")
	room := testRoom(t, func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/_matrix/client/v3/sync" {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		query := request.URL.Query()
		filter := query.Get("filter")
		if !strings.Contains(filter, `"rooms":["!observed:test.local"]`) {
			t.Errorf("filter not scoped to the room: %s", filter)
		}
		if !strings.Contains(filter, `"types":["m.custom.signal"]`) {
			t.Errorf("filter missing timeline types: %s", filter)
		}

		writer.Header().Set("Content-Type", "application/json")
		switch query.Get("since") {
		case "":
			// Position capture: no events, just the batch token.
			if got := query.Get("timeout"); got != "0" {
				t.Errorf("initial sync should not long-poll, timeout=%q", got)
			}
			json.NewEncoder(writer).Encode(messaging.SyncResponse{NextBatch: "s1"})
		case "s1":
			json.NewEncoder(writer).Encode(messaging.SyncResponse{
				NextBatch: "s2",
				Rooms: messaging.RoomsSection{
					Join: map[ref.RoomID]messaging.JoinedRoom{
						roomID: {
							Timeline: messaging.TimelineSection{
								Events: []json.RawMessage{
									json.RawMessage(`{"type":"m.custom.signal","content":{"seq":1}}`),
								},
							},
						},
					},
				},
			})
		default:
			// Hold the long poll until the client goes away.
			<-request.Context().Done()
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := room.Subscribe(ctx, []string{"m.custom.signal"})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	event := testutil.RequireReceive(t, events, 5*time.Second, "waiting for the forwarded sync event")
	var decoded struct {
		Type    string     `json:"type"`
		RoomID  ref.RoomID `json:"room_id"`
		Content struct {
			Seq int `json:"seq"`
		} `json:"content"`
	}
	if err := json.Unmarshal(event, &decoded); err != nil {
		t.Fatalf("decoding forwarded event: %v", err)
	}
	if decoded.Type != "m.custom.signal" || decoded.Content.Seq != 1 {
		t.Errorf("event mangled in transit: %s", event)
	}
	if decoded.RoomID.String() != "!observed:test.local" {
		t.Errorf("expected the room ID stamped on, got %q", decoded.RoomID)
	}

	// Cancellation unwinds the stream and closes the channel.
	cancel()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event channel did not close after cancellation")
		}
	}
}

func TestWithRoomID(t *testing.T) {
	room := &MatrixRoom{roomID: ref.MustParseRoomID("!observed:test.local")}

	t.Run("stamps the room onto bare events", func(t *testing.T) {
		got := room.withRoomID(json.RawMessage(`{"type":"m.room.message","content":{"body":"hi"}}`))
		want := json.RawMessage(`{"type":"m.room.message","content":{"body":"hi"},"room_id":"!observed:test.local"}`)
		if !jsonEqual(t, got, want) {
			t.Errorf("expected %s, got %s", want, got)
		}
	})

	t.Run("overwrites a stale room id", func(t *testing.T) {
		got := room.withRoomID(json.RawMessage(`{"type":"m.room.message","room_id":"!other:test.local"}`))
		want := json.RawMessage(`{"type":"m.room.message","room_id":"!observed:test.local"}`)
		if !jsonEqual(t, got, want) {
			t.Errorf("expected %s, got %s", want, got)
		}
	})

	t.Run("leaves non-objects alone", func(t *testing.T) {
		input := json.RawMessage(`[1,2,3]`)
		got := room.withRoomID(input)
		if !bytes.Equal(got, input) {
			t.Errorf("expected %s unchanged, got %s", input, got)
		}
	})
}

func TestMatrixRoomRoomID(t *testing.T) {
	room := &MatrixRoom{roomID: ref.MustParseRoomID("!observed:test.local")}
	if got := room.RoomID().String(); got != "!observed:test.local" {
		t.Errorf("unexpected room ID: %s", got)
	}
}
