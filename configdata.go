// Package matchscope provides embedded assets for the Matchscope daemon.
//
// The root package exists solely to embed [config.default.toml] via
// [DefaultConfigTOML]. The config package copies this at startup to
// seed first-run defaults.
package matchscope

import _ "embed"

// DefaultConfigTOML holds the raw bytes of config.default.toml, embedded at
// build time. The daemon writes this file to the data directory on first run.
//
//go:embed config.default.toml
var DefaultConfigTOML []byte
