package utils

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/bankwatch/config"
	"github.com/ethpandaops/bankwatch/types"
)

// Config is the globally accessible configuration
var Config *types.Config

// ReadConfig fills cfg from the embedded defaults, then the yaml file at path (if any), then the
// environment. Each layer only replaces the settings it names, so a zero value in the file still
// wins over a non-zero default. Unknown keys in the file are rejected.
func ReadConfig(cfg *types.Config, path string) error {
	if err := decodeConfig(cfg, bytes.NewReader([]byte(config.DefaultConfigYml))); err != nil {
		return fmt.Errorf("error decoding default config: %v", err)
	}

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("error opening config file %v: %v", path, err)
		}
		defer f.Close()

		if err := decodeConfig(cfg, f); err != nil {
			return fmt.Errorf("error decoding config file %v: %v", path, err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return fmt.Errorf("error reading config from environment: %v", err)
	}

	return nil
}

func decodeConfig(cfg *types.Config, r io.Reader) error {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	err := decoder.Decode(cfg)
	if err == io.EOF {
		// empty document
		return nil
	}
	return err
}
