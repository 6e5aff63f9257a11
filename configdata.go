// Package oracle embeds the default configuration file for the Oracle service.
package oracle

import _ "embed"

// DefaultConfigTOML holds config.default.toml. It is copied to the data
// directory on first run.
//
//go:embed config.default.toml
var DefaultConfigTOML []byte
