package main

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/tailscale/hujson"

	"github.com/tamirms/hashindex"
)

// ConfigFileName is the config file looked up in the working directory when
// --config is not given.
const ConfigFileName = ".hashidx.json"

// Config holds all configuration options. The file format is JSON with
// comments and trailing commas allowed.
type Config struct {
	// Delimiters separate records in the data file; any one byte ends a record.
	Delimiters string `json:"delimiters"`
	// Keys are the JSON fields each record is addressable by.
	Keys []string `json:"keys"`
	// Channels is the number of read handles per file.
	Channels int `json:"channels"`
	// Estimate is the expected record count; 0 counts records before building.
	Estimate uint64 `json:"estimate"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Delimiters: "\r\n",
		Keys:       []string{"id"},
		Channels:   hashindex.DefaultChannels,
	}
}

// LoadConfig returns the defaults overlaid with the config file at path. An
// empty path means ConfigFileName in workDir, which may be absent; an
// explicit path must exist.
func LoadConfig(workDir, path string) (Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = filepath.Join(workDir, ConfigFileName)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	var fileCfg Config
	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fileCfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg = mergeConfig(cfg, fileCfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// mergeConfig overlays the non-zero fields of override onto base.
func mergeConfig(base, override Config) Config {
	if override.Delimiters != "" {
		base.Delimiters = override.Delimiters
	}
	if len(override.Keys) > 0 {
		base.Keys = override.Keys
	}
	if override.Channels != 0 {
		base.Channels = override.Channels
	}
	if override.Estimate != 0 {
		base.Estimate = override.Estimate
	}
	return base
}

func validateConfig(cfg Config) error {
	if cfg.Delimiters == "" {
		return errors.New("delimiters must not be empty")
	}
	if len(cfg.Keys) == 0 {
		return errors.New("at least one key field is required")
	}
	for _, k := range cfg.Keys {
		if k == "" {
			return errors.New("key field names must not be empty")
		}
	}
	if cfg.Channels < 1 {
		return fmt.Errorf("channels must be at least 1, got %d", cfg.Channels)
	}
	return nil
}
