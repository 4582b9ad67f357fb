package config

import (
	"bytes"
	"errors"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	ncerr "gonntp/internal/errors"
)

// LoadFile overlays a YAML file onto cfg.  Keys absent from the file
// keep their current value; unknown keys are rejected so typos do not
// silently fall back to defaults.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &ncerr.ConfigError{Field: "config", Value: path, Message: err.Error()}
	}
	return decodeYAML(data, path, cfg)
}

func decodeYAML(data []byte, path string, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return &ncerr.ConfigError{
			Field:   "config",
			Value:   path,
			Message: err.Error(),
			Hint:    "durations use Go syntax, e.g. 90s or 5m",
		}
	}
	return nil
}
