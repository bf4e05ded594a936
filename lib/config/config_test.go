// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Decompressor.MaxNumReads != 2 || cfg.Decompressor.MaxNumJobs != 2 {
		t.Errorf("decompressor defaults = %d/%d, want 2/2",
			cfg.Decompressor.MaxNumReads, cfg.Decompressor.MaxNumJobs)
	}
	size, err := cfg.BlockSizeBytes()
	if err != nil || size != 1<<20 {
		t.Errorf("BlockSizeBytes = %d, %v, want 1MiB", size, err)
	}
	interval, err := cfg.IdleWakeInterval()
	if err != nil || interval != 100*time.Millisecond {
		t.Errorf("IdleWakeInterval = %v, %v, want 100ms", interval, err)
	}
}

func TestLoadRequiresStreamerConfig(t *testing.T) {
	t.Setenv("STREAMER_CONFIG", "")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error when STREAMER_CONFIG not set")
	}
	if !strings.HasPrefix(err.Error(), "STREAMER_CONFIG environment variable not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	directory := t.TempDir()
	path := filepath.Join(directory, "streamer.yaml")
	content := `
environment: development
decompressor:
  max_num_reads: 4
  max_num_jobs: 3
dedicated_cache:
  block_size: 256KiB
archives:
  - path: ${HOME}/game/base.arc
    mount_point: /assets
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HOME", "/home/player")
	t.Setenv("STREAMER_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Decompressor.MaxNumReads != 4 || cfg.Decompressor.MaxNumJobs != 3 {
		t.Errorf("decompressor = %+v", cfg.Decompressor)
	}
	if size, _ := cfg.BlockSizeBytes(); size != 256*1024 {
		t.Errorf("block size = %d, want 262144", size)
	}
	if len(cfg.Archives) != 1 || cfg.Archives[0].Path != "/home/player/game/base.arc" {
		t.Errorf("archives = %+v", cfg.Archives)
	}
	// Untouched fields keep their defaults.
	if cfg.Drive.MaxFileHandles != 32 {
		t.Errorf("drive.max_file_handles = %d, want default 32", cfg.Drive.MaxFileHandles)
	}
}

func TestLoadJSONC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streamer.jsonc")
	content := `{
  // Spinning disk in the test rig.
  "drive": {
    "seek_penalty": "on",
    "io_channel_count": 1,
  },
  "logging": {"level": "debug", "format": "json"},
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Drive.SeekPenalty != "on" || cfg.Drive.IOChannelCount != 1 {
		t.Errorf("drive = %+v", cfg.Drive)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestProductionDefaultsToMinimalReporting(t *testing.T) {
	cfg, err := Parse([]byte("environment: production\n"), false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !cfg.Drive.MinimalReporting {
		t.Error("production did not enable minimal reporting")
	}

	cfg, err = Parse([]byte(`
environment: production
production:
  decompressor:
    max_num_jobs: 6
`), false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Decompressor.MaxNumJobs != 6 {
		t.Errorf("max_num_jobs = %d, want 6 from production override", cfg.Decompressor.MaxNumJobs)
	}
}

func TestValidateRejectsZeroCapacity(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero reads", func(c *Config) { c.Decompressor.MaxNumReads = 0 }, "max_num_reads"},
		{"zero jobs", func(c *Config) { c.Decompressor.MaxNumJobs = 0 }, "max_num_jobs"},
		{"zero handles", func(c *Config) { c.Drive.MaxFileHandles = 0 }, "max_file_handles"},
		{"bad seek penalty", func(c *Config) { c.Drive.SeekPenalty = "maybe" }, "seek_penalty"},
		{"bad block size", func(c *Config) { c.DedicatedCache.BlockSize = "lots" }, "block_size"},
		{"bad environment", func(c *Config) { c.Environment = "staging" }, "environment"},
		{"archive without mount", func(c *Config) { c.Archives = []ArchiveMount{{Path: "a.arc"}} }, "mount_point"},
		{"device without name", func(c *Config) { c.Devices = []DeviceConfig{{Roots: []string{"/mnt/a"}}} }, "devices[0].name"},
		{"device without roots", func(c *Config) { c.Devices = []DeviceConfig{{Name: "usb"}} }, "devices[0].roots"},
		{"duplicate device", func(c *Config) {
			c.Devices = []DeviceConfig{{Name: "usb", Roots: []string{"/mnt/a"}}, {Name: "usb", Roots: []string{"/mnt/b"}}}
		}, "used twice"},
		{"bad device seek penalty", func(c *Config) {
			c.Devices = []DeviceConfig{{Name: "usb", Roots: []string{"/mnt/a"}, SeekPenalty: "sometimes"}}
		}, "devices[0].seek_penalty"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, test.want)
			}
		})
	}
}

func TestDisabledDecompressorSkipsValidation(t *testing.T) {
	cfg := Default()
	cfg.Decompressor.Enabled = false
	cfg.Decompressor.MaxNumJobs = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil for disabled stage", err)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	data, err := Default().Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	cfg, err := Parse(data, false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("re-parsed default config invalid: %v", err)
	}
}

func TestParseDevices(t *testing.T) {
	t.Setenv("STREAMER_TEST_MEDIA", "/media/disc")
	cfg, err := Parse([]byte(`
devices:
  - name: disc
    roots: ["${STREAMER_TEST_MEDIA}/movies", "${STREAMER_TEST_MEDIA}/music"]
    seek_penalty: "on"
  - name: usb
    roots: [/mnt/usb]
    probe_path: /dev/sdb
    io_channel_count: 2
`), false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(cfg.Devices) != 2 {
		t.Fatalf("devices = %d, want 2", len(cfg.Devices))
	}
	disc, usb := cfg.Devices[0], cfg.Devices[1]
	if disc.Roots[0] != "/media/disc/movies" || disc.Roots[1] != "/media/disc/music" {
		t.Errorf("disc roots = %v, want expanded paths", disc.Roots)
	}
	if disc.EffectiveProbePath() != "/media/disc/movies" {
		t.Errorf("disc probe path = %q, want the first root", disc.EffectiveProbePath())
	}
	if disc.EffectiveSeekPenalty() != "on" || usb.EffectiveSeekPenalty() != "auto" {
		t.Errorf("seek penalties = %q, %q; want on, auto", disc.EffectiveSeekPenalty(), usb.EffectiveSeekPenalty())
	}
	if usb.EffectiveProbePath() != "/dev/sdb" || usb.IOChannelCount != 2 {
		t.Errorf("usb = %+v", usb)
	}
}
