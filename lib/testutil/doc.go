// Copyright 2026 The Alcove Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Alcove packages.
//
// [RequireReceive], [RequireSend], and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with time.After fallback) so
// that individual tests do not need direct time.After calls. Protocol
// tests lean on these heavily: almost every driver and proxy test
// exchanges messages over channels that must never hang the suite.
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation. Use it instead of time.Now() when tests need unique
// request IDs or message bodies.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no Alcove-internal dependencies.
package testutil
