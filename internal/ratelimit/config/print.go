package config

import (
	"encoding/json"
	"io"
)

// PrintConfig writes the effective configuration as indented JSON. Secrets are omitted.
func PrintConfig(w io.Writer, cfg *Config) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(cfg)
}
