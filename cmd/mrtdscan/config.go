package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"mrtdreader/internal/platform/config"
	"mrtdreader/pkg/validation"
)

// scanConfig tags name the TOML keys so validation messages match the file.
type scanConfig struct {
	RelayAddr       string        `toml:"relay" validate:"required,hostname_port"`
	ExchangeTimeout time.Duration `toml:"exchange_timeout" validate:"gt=0"`
	DialTimeout     time.Duration `toml:"dial_timeout" validate:"gt=0"`
	ScanTimeout     time.Duration `toml:"scan_timeout" validate:"gt=0"`
	BlockSize       int           `toml:"block_size" validate:"min=1,max=65536"`
	ChunkSize       int           `toml:"chunk_size" validate:"min=1,max=65536"`
	OPJDecompress   string        `toml:"opj_decompress"`
	LogLevel        string        `toml:"log_level" validate:"oneof=debug info warn error"`
}

func (c scanConfig) validate() error {
	return validation.Validate(c)
}

func defaultScanConfig() scanConfig {
	return scanConfig{
		ExchangeTimeout: config.ExchangeTimeout,
		DialTimeout:     config.DialTimeout,
		ScanTimeout:     2 * time.Minute,
		BlockSize:       config.MaxBlockSize,
		ChunkSize:       config.ImageChunkSize,
		LogLevel:        "info",
	}
}

type fileConfig struct {
	Relay           string `toml:"relay"`
	ExchangeTimeout string `toml:"exchange_timeout"`
	DialTimeout     string `toml:"dial_timeout"`
	ScanTimeout     string `toml:"scan_timeout"`
	BlockSize       int    `toml:"block_size"`
	ChunkSize       int    `toml:"chunk_size"`
	OPJDecompress   string `toml:"opj_decompress"`
	LogLevel        string `toml:"log_level"`
}

// loadScanConfig overlays the keys present in the TOML file at path on the defaults.
func loadScanConfig(path string) (scanConfig, error) {
	cfg := defaultScanConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return scanConfig{}, fmt.Errorf("load scan config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return scanConfig{}, fmt.Errorf("load scan config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("relay") {
		cfg.RelayAddr = strings.TrimSpace(raw.Relay)
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"exchange_timeout", raw.ExchangeTimeout, &cfg.ExchangeTimeout},
		{"dial_timeout", raw.DialTimeout, &cfg.DialTimeout},
		{"scan_timeout", raw.ScanTimeout, &cfg.ScanTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil || v <= 0 {
			return scanConfig{}, fmt.Errorf("parse %s: invalid duration %q", d.key, d.raw)
		}
		*d.dst = v
	}
	if meta.IsDefined("block_size") {
		if raw.BlockSize <= 0 {
			return scanConfig{}, fmt.Errorf("block_size must be positive")
		}
		cfg.BlockSize = raw.BlockSize
	}
	if meta.IsDefined("chunk_size") {
		if raw.ChunkSize <= 0 {
			return scanConfig{}, fmt.Errorf("chunk_size must be positive")
		}
		cfg.ChunkSize = raw.ChunkSize
	}
	if meta.IsDefined("opj_decompress") {
		cfg.OPJDecompress = strings.TrimSpace(raw.OPJDecompress)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	return cfg, nil
}
