// Copyright 2026 The Cowork Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Cowork components.
//
// Configuration is loaded from a single YAML file specified by:
//   - COWORK_CONFIG environment variable, or
//   - --config flag passed to the command
//
// When neither is set, commands fall back to Default, which places all
// data under ~/.local/share/cowork. The config file never merges with
// environment variables; the only expansion performed is ${HOME} and
// similar path variables for portability.
package config
