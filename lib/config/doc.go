// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the streaming stack configuration.
//
// Configuration comes from a single file named by the STREAMER_CONFIG
// environment variable (via [Load]) or a --config flag (via
// [LoadFile]). There is no discovery and no environment-variable
// override of individual values. Files ending in .json or .jsonc are
// accepted with comments and trailing commas; everything else is YAML.
//
// The file may contain development and production sections that
// override base values when [Config].Environment matches. Production
// defaults to minimal reporting on the drive stage.
//
// Path fields expand ${HOME} and ${VAR:-default} after loading.
//
// This package depends on no other streamer packages; lib/streamer/stack
// turns a Config into a running stack.
package config
