package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// Load reads path (JSON or YAML), applies env overrides and defaults, and
// validates. A missing file is not an error: defaults and env are used.
func Load(path string) (*Config, error) {
	loadDotEnv()
	cfg, err := parseFile(path)
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseFile(path string) (*Config, error) {
	cfg := &Config{Logging: LoggingConfig{Console: true}}
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	jb, err := toJSON(path, raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := decodeStrict(jb, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func decodeStrict(b []byte, out *Config) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("trailing data after config document")
		}
		return err
	}
	return nil
}
