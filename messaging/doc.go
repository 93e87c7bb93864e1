// Copyright 2026 The Alcove Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the slice of the Matrix client-server API that
// Alcove needs to back a widget session.
//
// [Client] is an unauthenticated Matrix client holding the homeserver URL
// and HTTP transport. It handles password login and server version probes,
// and mints authenticated [Session] values. Sessions are lightweight (a
// pointer to the parent Client plus an access token) and share the
// Client's connection pool.
//
// [Session] performs the authenticated operations widgets are built on:
// sending room and state events (idempotent PUT with generated transaction
// IDs), reading room state and paginated messages, incremental /sync with
// long-polling, room alias resolution, OpenID token minting, and identity
// verification (WhoAmI). Event payloads travel as json.RawMessage: the
// widget protocol forwards homeserver events verbatim, so nothing in this
// package re-encodes event content.
//
// [RoomWatcher] captures a position in the /sync stream for one room and
// turns subsequent long-polls into a continuous event feed via
// [RoomWatcher.Stream].
//
// All API errors are returned as [*MatrixError] with the standard Matrix
// error code (M_FORBIDDEN, M_NOT_FOUND, etc.) and HTTP status code;
// [IsMatrixError] tests for a specific code. Request URLs are built by
// string concatenation rather than url.URL to avoid double-encoding of
// path segments that contain URL-encoded characters.
package messaging
