// Copyright 2026 Relay Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package config manages the relay's configuration lifecycle: multi-source
loading, runtime hot reload, change auditing, and an HTTP management API.
Configuration is merged in the order "defaults -> YAML file -> environment
variables".

# Core structures

  - Config: the top-level configuration aggregate, covering Server,
    Providers, Redis, Database, Log, and Telemetry
  - Loader: a builder-style loader for the file path, environment
    variable prefix, and custom validators
  - HotReloadManager: watches the config file and applies partial field
    updates, change callbacks, and an in-memory change log
  - FileWatcher: a polling + debounce based file-change watcher that
    triggers reloads
  - ConfigAPIHandler: an HTTP handler exposing config query, update,
    manual reload, and change-history endpoints

# Capabilities

  - Multi-source loading: YAML file, environment variables (RELAY_
    prefix), and defaults
  - Hot reload: automatic reload on file change, plus API-triggered
    reload, both supporting field-level updates
  - Security: sensitive-field masking (SanitizedConfig), API key read
    from the X-API-Key header or the api_key query parameter, CORS control
  - Change auditing: a change log of applied changes; ApplyConfig keeps
    the most recent 1000 entries. Changes are not versioned and cannot
    be rolled back
  - Validation: built-in checks (Config.Validate) plus custom validators
    added with Loader.WithValidator

# Usage

	cfg, err := config.NewLoader().
		WithConfigPath("config.yaml").
		WithEnvPrefix("RELAY").
		Load()
*/
package config
