// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for streamer packages:
// channel assertions with timeout safety valves, deterministic file
// fixtures, and unique names.
package testutil
