package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with the documented defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Deepgram.Model == "" {
		cfg.Deepgram.Model = "nova-3"
	}
	if cfg.Deepgram.Language == "" {
		cfg.Deepgram.Language = "en"
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.SegmentSeconds <= 0 {
		cfg.Audio.SegmentSeconds = 5
	}
	if cfg.Session.ConnectTimeout <= 0 {
		cfg.Session.ConnectTimeout = Duration(10 * time.Second)
	}
	if cfg.Session.KeepaliveInterval <= 0 {
		cfg.Session.KeepaliveInterval = Duration(12 * time.Second)
	}
	if cfg.Session.InactivityTimeout <= 0 {
		cfg.Session.InactivityTimeout = Duration(30 * time.Second)
	}
	if cfg.Session.MaxReconnectAttempts <= 0 {
		cfg.Session.MaxReconnectAttempts = 5
	}
	if cfg.Session.BackoffBase <= 0 {
		cfg.Session.BackoffBase = Duration(500 * time.Millisecond)
	}
	if cfg.Session.BackoffCap <= 0 {
		cfg.Session.BackoffCap = Duration(8 * time.Second)
	}
	if cfg.Transcript.FlushDwell <= 0 {
		cfg.Transcript.FlushDwell = Duration(45 * time.Second)
	}
	if cfg.Transcript.DuplicateThreshold <= 0 {
		cfg.Transcript.DuplicateThreshold = 0.82
	}
	if cfg.Transcript.RecentWindow <= 0 {
		cfg.Transcript.RecentWindow = 12
	}
	if cfg.Sweep.Interval <= 0 {
		cfg.Sweep.Interval = Duration(60 * time.Second)
	}
	if cfg.Sweep.Staleness <= 0 {
		cfg.Sweep.Staleness = Duration(5 * time.Minute)
	}
	if cfg.Analysis.Timeout <= 0 {
		cfg.Analysis.Timeout = Duration(10 * time.Second)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Deepgram.APIKey == "" {
		errs = append(errs, errors.New("deepgram.api_key must be set"))
	}
	if cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is invalid; must be 1 or 2", cfg.Audio.Channels))
	}
	if cfg.Transcript.DuplicateThreshold > 1 {
		errs = append(errs, fmt.Errorf("transcript.duplicate_threshold %v is invalid; must be in (0,1]", cfg.Transcript.DuplicateThreshold))
	}
	if cfg.Sweep.Staleness.Std() <= cfg.Session.InactivityTimeout.Std() {
		errs = append(errs, fmt.Errorf(
			"sweep.staleness (%v) must exceed session.inactivity_timeout (%v); the sweep is a backstop, not the primary close path",
			cfg.Sweep.Staleness.Std(), cfg.Session.InactivityTimeout.Std(),
		))
	}

	return errors.Join(errs...)
}
