// Copyright 2026 The Alcove Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable Matrix identifier
// values for the rest of the module: room IDs, user IDs, event IDs,
// and event types.
//
// Identifiers are parsed into these types at the boundary where they
// enter the process (homeserver responses, configuration, wire
// messages from a widget) and stay typed from there on. Constructors
// validate the structural format defined by the Matrix spec; once
// constructed a value is immutable and its String form is the
// canonical Matrix identifier.
//
// The zero value of every type is "unset", never a valid identifier.
// Use IsZero to test for it. JSON marshalling goes through
// encoding.TextMarshaler, so the types can be used directly in wire
// structs and as map keys.
package ref
