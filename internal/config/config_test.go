package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gosyncprogress/internal/utils"
)

// TestSampleConfigIsValid tests that the embedded sample parses and validates
func TestSampleConfigIsValid(t *testing.T) {
	cfg, err := Parse(Sample(), "config.json")
	if err != nil {
		t.Fatalf("sample config invalid: %v", err)
	}
	if cfg.Remote.URL == "" {
		t.Error("sample should point at a server")
	}
	if cfg.Sync.BatchSize != DefaultBatchSize {
		t.Errorf("BatchSize = %d, want %d", cfg.Sync.BatchSize, DefaultBatchSize)
	}
	if cfg.BackoffCap() != 5*time.Minute {
		t.Errorf("BackoffCap() = %v, want 5m", cfg.BackoffCap())
	}
}

// TestParseDefaults tests that empty sections get defaults
func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`{}`), "config.json")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Remote.Name != DefaultRemoteName {
		t.Errorf("Remote.Name = %q, want %q", cfg.Remote.Name, DefaultRemoteName)
	}
	if cfg.Sync.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", cfg.Sync.MaxAttempts, DefaultMaxAttempts)
	}
	if cfg.Sync.MaxLowPriorityPending != DefaultMaxLowPriorityPending {
		t.Errorf("MaxLowPriorityPending = %d", cfg.Sync.MaxLowPriorityPending)
	}
	if cfg.Sync.QueuedItemsSample != DefaultQueuedItemsSample {
		t.Errorf("QueuedItemsSample = %d", cfg.Sync.QueuedItemsSample)
	}
	if cfg.RemoteTimeout() != DefaultRemoteTimeout {
		t.Errorf("RemoteTimeout() = %v", cfg.RemoteTimeout())
	}
	if cfg.FlushInterval() != DefaultFlushInterval {
		t.Errorf("FlushInterval() = %v", cfg.FlushInterval())
	}
	if cfg.ProbeInterval() != DefaultProbeInterval {
		t.Errorf("ProbeInterval() = %v", cfg.ProbeInterval())
	}
	if cfg.BackoffBase() != DefaultBackoffBase {
		t.Errorf("BackoffBase() = %v", cfg.BackoffBase())
	}
}

// TestParseYAML tests that .yaml files are decoded as YAML
func TestParseYAML(t *testing.T) {
	data := []byte(`
remote:
  url: https://progress.example.com
  timeout: 3s
sync:
  batch_size: 30
  backoff_base: 2s
  flush_interval: 1m
`)
	for _, name := range []string{"config.yaml", "CONFIG.YML"} {
		cfg, err := Parse(data, name)
		if err != nil {
			t.Fatalf("Parse(%s) error = %v", name, err)
		}
		if cfg.Remote.URL != "https://progress.example.com" {
			t.Errorf("URL = %q", cfg.Remote.URL)
		}
		if cfg.RemoteTimeout() != 3*time.Second {
			t.Errorf("RemoteTimeout() = %v", cfg.RemoteTimeout())
		}
		if cfg.Sync.BatchSize != 30 {
			t.Errorf("BatchSize = %d", cfg.Sync.BatchSize)
		}
		if cfg.BackoffBase() != 2*time.Second {
			t.Errorf("BackoffBase() = %v", cfg.BackoffBase())
		}
		if cfg.FlushInterval() != time.Minute {
			t.Errorf("FlushInterval() = %v", cfg.FlushInterval())
		}
	}
}

// TestValidate tests the validation rules
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"valid", `{"remote":{"url":"http://localhost:8080"}}`, ""},
		{"bad url", `{"remote":{"url":"not a url"}}`, "URL"},
		{"bad duration", `{"sync":{"backoff_base":"soon"}}`, "BackoffBase"},
		{"negative duration", `{"remote":{"timeout":"-1s"}}`, "Timeout"},
		{"batch too large", `{"sync":{"batch_size":500}}`, "BatchSize"},
		{"bad remote name", `{"remote":{"name":"my server"}}`, "Name"},
		{"cap below base", `{"sync":{"backoff_base":"10s","backoff_cap":"1s"}}`, "backoff_cap"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), "config.json")
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Parse() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Parse() expected error mentioning %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.wantErr)
			}
			var sugg *utils.ErrorWithSuggestion
			if !errors.As(err, &sugg) {
				t.Errorf("expected ErrorWithSuggestion, got %T", err)
			}
		})
	}
}

// TestParseInvalidSyntax tests that malformed files produce a helpful error
func TestParseInvalidSyntax(t *testing.T) {
	if _, err := Parse([]byte(`{"remote":`), "config.json"); err == nil || !strings.Contains(err.Error(), "invalid JSON") {
		t.Errorf("expected invalid JSON error, got %v", err)
	}
	if _, err := Parse([]byte("remote: [unclosed"), "config.yaml"); err == nil || !strings.Contains(err.Error(), "invalid YAML") {
		t.Errorf("expected invalid YAML error, got %v", err)
	}
}

// TestLoadCreatesSample tests that a missing config is created from the sample
func TestLoadCreatesSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Remote.TokenEnv != "GOSYNCPROGRESS_TOKEN" {
		t.Errorf("TokenEnv = %q", cfg.Remote.TokenEnv)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("sample was not written: %v", err)
	}
	if info.Mode().Perm() != CONFIG_FILE_PERM {
		t.Errorf("config perm = %v, want %v", info.Mode().Perm(), os.FileMode(CONFIG_FILE_PERM))
	}

	written, _ := os.ReadFile(path)
	var raw map[string]interface{}
	if err := json.Unmarshal(written, &raw); err != nil {
		t.Errorf("written sample is not JSON: %v", err)
	}
}

// TestLoadCreatesYAMLSample tests that a .yaml path gets a YAML sample
func TestLoadCreatesYAMLSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	written, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(written), "batch_size: 20") {
		t.Errorf("expected YAML sample, got:\n%s", written)
	}
	if cfg.Sync.BatchSize != 20 {
		t.Errorf("BatchSize = %d", cfg.Sync.BatchSize)
	}
}

// TestSaveRoundTrip tests that Save output loads back unchanged
func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		Remote: RemoteConfig{Name: "school", URL: "https://example.com", Timeout: "4s"},
		Sync:   SyncConfig{BatchSize: 25, BackoffBase: "500ms", BackoffCap: "1m"},
		Log:    LogConfig{Verbose: true},
	}

	for _, name := range []string{"config.json", "config.yaml"} {
		path := filepath.Join(dir, name)
		if err := Save(cfg, path); err != nil {
			t.Fatalf("Save(%s) error = %v", name, err)
		}
		got, err := Load(path)
		if err != nil {
			t.Fatalf("Load(%s) error = %v", name, err)
		}
		if got.Remote.Name != "school" || got.Sync.BatchSize != 25 || !got.Log.Verbose {
			t.Errorf("%s: round trip mismatch: %+v", name, got)
		}
		if got.BackoffBase() != 500*time.Millisecond {
			t.Errorf("%s: BackoffBase() = %v", name, got.BackoffBase())
		}
	}
}

// TestDurationValue tests parsing and fallback of Duration
func TestDurationValue(t *testing.T) {
	tests := []struct {
		in   Duration
		want time.Duration
	}{
		{"", time.Second},
		{"250ms", 250 * time.Millisecond},
		{"2m", 2 * time.Minute},
		{"bogus", time.Second},
		{"0s", time.Second},
	}
	for _, tt := range tests {
		if got := tt.in.Value(time.Second); got != tt.want {
			t.Errorf("Duration(%q).Value() = %v, want %v", tt.in, got, tt.want)
		}
	}
}
