package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
deepgram:
  api_key: dg-test-key
`

func TestLoadFromReader_DefaultsApplied(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Deepgram.Model != "nova-3" {
		t.Errorf("model = %q, want nova-3", cfg.Deepgram.Model)
	}
	if cfg.Deepgram.Language != "en" {
		t.Errorf("language = %q, want en", cfg.Deepgram.Language)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 1 {
		t.Errorf("audio format = %d/%d, want 16000/1", cfg.Audio.SampleRate, cfg.Audio.Channels)
	}
	if got := cfg.Session.ConnectTimeout.Std(); got != 10*time.Second {
		t.Errorf("connect_timeout = %v, want 10s", got)
	}
	if cfg.Session.MaxReconnectAttempts != 5 {
		t.Errorf("max_reconnect_attempts = %d, want 5", cfg.Session.MaxReconnectAttempts)
	}
	if got := cfg.Transcript.FlushDwell.Std(); got != 45*time.Second {
		t.Errorf("flush_dwell = %v, want 45s", got)
	}
	if cfg.Transcript.DuplicateThreshold != 0.82 {
		t.Errorf("duplicate_threshold = %v, want 0.82", cfg.Transcript.DuplicateThreshold)
	}
	if cfg.Transcript.RecentWindow != 12 {
		t.Errorf("recent_window = %d, want 12", cfg.Transcript.RecentWindow)
	}
	if got := cfg.Sweep.Staleness.Std(); got != 5*time.Minute {
		t.Errorf("staleness = %v, want 5m", got)
	}
}

func TestLoadFromReader_ExplicitValues(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(`
server:
  listen_addr: ":9090"
  log_level: debug
deepgram:
  api_key: dg-test-key
  model: nova-2
session:
  connect_timeout: 3s
  backoff_base: 250ms
transcript:
  duplicate_threshold: 0.9
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q, want :9090", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != LogDebug {
		t.Errorf("log_level = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Deepgram.Model != "nova-2" {
		t.Errorf("model = %q, want nova-2", cfg.Deepgram.Model)
	}
	if got := cfg.Session.ConnectTimeout.Std(); got != 3*time.Second {
		t.Errorf("connect_timeout = %v, want 3s", got)
	}
	if got := cfg.Session.BackoffBase.Std(); got != 250*time.Millisecond {
		t.Errorf("backoff_base = %v, want 250ms", got)
	}
	if cfg.Transcript.DuplicateThreshold != 0.9 {
		t.Errorf("duplicate_threshold = %v, want 0.9", cfg.Transcript.DuplicateThreshold)
	}
}

func TestLoadFromReader_ValidationFailures(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantSub string
	}{
		{
			name:    "missing api key",
			yaml:    ``,
			wantSub: "deepgram.api_key",
		},
		{
			name: "bad log level",
			yaml: `
server:
  log_level: verbose
deepgram:
  api_key: k
`,
			wantSub: "server.log_level",
		},
		{
			name: "too many channels",
			yaml: `
deepgram:
  api_key: k
audio:
  channels: 6
`,
			wantSub: "audio.channels",
		},
		{
			name: "threshold above one",
			yaml: `
deepgram:
  api_key: k
transcript:
  duplicate_threshold: 1.5
`,
			wantSub: "transcript.duplicate_threshold",
		},
		{
			name: "staleness below inactivity timeout",
			yaml: `
deepgram:
  api_key: k
session:
  inactivity_timeout: 10m
sweep:
  staleness: 1m
`,
			wantSub: "sweep.staleness",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(`
deepgram:
  api_key: k
  tipo: mistyped
`))
	if err == nil {
		t.Fatal("expected an error for an unknown field")
	}
}

func TestLoadFromReader_BadDuration(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(`
deepgram:
  api_key: k
session:
  connect_timeout: ten seconds
`))
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Fatalf("expected an invalid duration error, got %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Deepgram.APIKey != "dg-test-key" {
		t.Errorf("api_key = %q, want dg-test-key", cfg.Deepgram.APIKey)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
