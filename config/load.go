package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// LoadFile reads and validates a TOML configuration document from disk.
// Unrecognized keys are returned as warnings alongside the validated
// Config, mirroring §4.A's "unknown keys are soft warnings" rule.
func LoadFile(path string) (*Config, []string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading config %q: %w", path, err)
	}
	return LoadBytes(raw)
}

// LoadBytes validates a TOML document already in memory. Used by
// save_config, which receives a document from the management UI rather
// than reading it from disk itself.
func LoadBytes(raw []byte) (*Config, []string, error) {
	var doc wireDoc
	meta, err := toml.Decode(string(raw), &doc)
	if err != nil {
		return nil, nil, &ValidationError{Errors: []FieldError{{Path: "<document>", Message: err.Error()}}}
	}

	var warnings []string
	for _, k := range meta.Undecoded() {
		warnings = append(warnings, fmt.Sprintf("unrecognized key %q", k.String()))
	}

	cfg, verr := validate(&doc)
	if verr != nil {
		return nil, warnings, verr
	}
	return cfg, warnings, nil
}
