// Package config provides the configuration schema and loader for the
// auricle transcription service.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the auricle server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration wraps time.Duration with YAML decoding of Go duration strings
// (e.g., "10s", "5m").
type Duration time.Duration

// UnmarshalYAML decodes a duration string into d.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for auricle.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Deepgram   DeepgramConfig   `yaml:"deepgram"`
	Audio      AudioConfig      `yaml:"audio"`
	Session    SessionConfig    `yaml:"session"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Sweep      SweepConfig      `yaml:"sweep"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Archive    ArchiveConfig    `yaml:"archive"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// DeepgramConfig selects the STT provider credentials and model.
type DeepgramConfig struct {
	// APIKey authenticates against the Deepgram streaming API.
	APIKey string `yaml:"api_key"`

	// Model selects the recognition model (e.g., "nova-3").
	Model string `yaml:"model"`

	// Language is the BCP-47 recognition language (e.g., "en").
	Language string `yaml:"language"`
}

// AudioConfig describes the PCM format produced by the decoder and expected
// by the provider.
type AudioConfig struct {
	// SampleRate in Hz. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the channel count. Default 1.
	Channels int `yaml:"channels"`

	// SegmentSeconds is the archival segment duration. Default 5.
	SegmentSeconds int `yaml:"segment_seconds"`
}

// SessionConfig tunes the per-session connection supervisor.
type SessionConfig struct {
	// ConnectTimeout bounds provider connection establishment. Default 10s.
	ConnectTimeout Duration `yaml:"connect_timeout"`

	// KeepaliveInterval is the period between protocol pings and synthetic
	// silence frames while the connection is open. Default 12s.
	KeepaliveInterval Duration `yaml:"keepalive_interval"`

	// InactivityTimeout closes the session gracefully after this long
	// without genuine audio from the source. Default 30s.
	InactivityTimeout Duration `yaml:"inactivity_timeout"`

	// MaxReconnectAttempts bounds consecutive reconnection failures before
	// the session terminates. Default 5.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`

	// BackoffBase is the initial reconnect delay; it grows by 1.5x per
	// attempt. Default 500ms.
	BackoffBase Duration `yaml:"backoff_base"`

	// BackoffCap is the upper limit on the reconnect delay. Default 8s.
	BackoffCap Duration `yaml:"backoff_cap"`
}

// TranscriptConfig tunes the transcript accumulator.
type TranscriptConfig struct {
	// FlushDwell is the inactivity period before an automatic flush.
	// Default 45s.
	FlushDwell Duration `yaml:"flush_dwell"`

	// DuplicateThreshold is the similarity score in (0,1] at or above
	// which a fragment is discarded as a near-duplicate. Default 0.82.
	DuplicateThreshold float64 `yaml:"duplicate_threshold"`

	// RecentWindow is the duplicate-detection history length. Default 12.
	RecentWindow int `yaml:"recent_window"`
}

// SweepConfig tunes the fleet-wide stale-session sweep.
type SweepConfig struct {
	// Interval between sweeps. Default 60s.
	Interval Duration `yaml:"interval"`

	// Staleness is the last-activity age beyond which a session is
	// force-flushed and torn down. Default 5m.
	Staleness Duration `yaml:"staleness"`
}

// AnalysisConfig points at the downstream analysis collaborator.
type AnalysisConfig struct {
	// Endpoint is the URL receiving flushed transcript blocks. Empty
	// disables delivery (blocks are logged and dropped).
	Endpoint string `yaml:"endpoint"`

	// Timeout bounds one delivery call. Default 10s.
	Timeout Duration `yaml:"timeout"`
}

// ArchiveConfig controls local segment archival.
type ArchiveConfig struct {
	// Dir is the root directory for segment blobs. Empty disables archival.
	Dir string `yaml:"dir"`
}
