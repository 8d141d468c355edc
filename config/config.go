// Package config embeds the default bankwatch configuration.
package config

import (
	_ "embed"
)

// DefaultConfigYml holds every setting with its default value. Config files are decoded over it.
//
//go:embed default.config.yml
var DefaultConfigYml string
