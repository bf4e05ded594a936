// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local iteration: verbose stage reporting.
	Development Environment = "development"
	// Production is for shipped builds.
	Production Environment = "production"
)

// Config is the streaming stack configuration.
type Config struct {
	// Environment selects which override section applies.
	Environment Environment `yaml:"environment"`

	Logging        LoggingConfig        `yaml:"logging"`
	Scheduler      SchedulerConfig      `yaml:"scheduler"`
	Drive          DriveConfig          `yaml:"drive"`
	Devices        []DeviceConfig       `yaml:"devices"`
	DedicatedCache DedicatedCacheConfig `yaml:"dedicated_cache"`
	Decompressor   DecompressorConfig   `yaml:"decompressor"`

	// Archives are mounted into the catalog when the stack is built.
	Archives []ArchiveMount `yaml:"archives"`

	Development *Overrides `yaml:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides contains the fields that can differ per environment.
type Overrides struct {
	Logging      *LoggingConfig      `yaml:"logging,omitempty"`
	Drive        *DriveConfig        `yaml:"drive,omitempty"`
	Decompressor *DecompressorConfig `yaml:"decompressor,omitempty"`
}

// LoggingConfig configures the slog handler built by commands.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Default: info.
	Level string `yaml:"level"`

	// Format is json or text. Default: text.
	Format string `yaml:"format"`
}

// SchedulerConfig configures the scheduler goroutine.
type SchedulerConfig struct {
	// Name labels the scheduler in logs. Default: "streamer".
	Name string `yaml:"name"`

	// IdleWakeInterval bounds how long the scheduler sleeps with work
	// outstanding before refreshing completion estimates. Empty or
	// "0" disables the periodic wake. Default: 100ms.
	IdleWakeInterval string `yaml:"idle_wake_interval"`
}

// DriveConfig configures the storage drive stage.
type DriveConfig struct {
	// MaxFileHandles is the number of open file handles cached.
	// Default: 32.
	MaxFileHandles int `yaml:"max_file_handles"`

	// MaxMetaDataCacheEntries is the number of file sizes cached.
	// Default: 64.
	MaxMetaDataCacheEntries int `yaml:"max_metadata_cache_entries"`

	// IOChannelCount is the number of concurrent device reads. Zero
	// uses the hardware probe.
	IOChannelCount int `yaml:"io_channel_count"`

	// Overcommit is the number of extra reads accepted beyond the
	// channel count so the device never idles between dispatches.
	// Default: 2.
	Overcommit int `yaml:"overcommit"`

	// SeekPenalty is auto (use the probe), on, or off. Default: auto.
	SeekPenalty string `yaml:"seek_penalty"`

	// MinimalReporting suppresses per-stage informational logs.
	MinimalReporting bool `yaml:"minimal_reporting"`

	// ProbePath is the path whose device is probed. Default: the
	// current directory.
	ProbePath string `yaml:"probe_path"`
}

// DeviceConfig adds a storage drive for one device. It is chained in
// front of the default drive and serves only the files under Roots;
// every other path falls through. Handle and metadata cache sizes and
// overcommit come from the drive section.
type DeviceConfig struct {
	// Name identifies the device in logs and statistics. Required and
	// unique.
	Name string `yaml:"name"`

	// Roots are the directories stored on the device. At least one is
	// required.
	Roots []string `yaml:"roots"`

	// ProbePath is the path whose device is probed. Default: the first
	// root.
	ProbePath string `yaml:"probe_path"`

	// IOChannelCount overrides the probed channel count when positive.
	IOChannelCount int `yaml:"io_channel_count"`

	// SeekPenalty is auto, on, or off. Default: auto.
	SeekPenalty string `yaml:"seek_penalty"`
}

// EffectiveSeekPenalty returns the device's seek penalty setting with the
// default applied.
func (d DeviceConfig) EffectiveSeekPenalty() string {
	if d.SeekPenalty == "" {
		return "auto"
	}
	return d.SeekPenalty
}

// EffectiveProbePath returns where the device is probed.
func (d DeviceConfig) EffectiveProbePath() string {
	if d.ProbePath == "" && len(d.Roots) > 0 {
		return d.Roots[0]
	}
	return d.ProbePath
}

// DedicatedCacheConfig configures per-file block caches.
type DedicatedCacheConfig struct {
	// Enabled inserts the dedicated cache stage. Default: true.
	Enabled bool `yaml:"enabled"`

	// BlockSize is the size of one cached block, e.g. "1MiB".
	// Default: 1MiB.
	BlockSize string `yaml:"block_size"`

	// BlockCount is the number of blocks each dedicated cache keeps.
	// Default: 8.
	BlockCount int `yaml:"block_count"`
}

// DecompressorConfig configures the full-file decompressor stage.
type DecompressorConfig struct {
	// Enabled inserts the decompressor stage. Default: true.
	Enabled bool `yaml:"enabled"`

	// MaxNumReads is the number of archive reads in flight at once.
	// Default: 2. Zero is rejected.
	MaxNumReads int `yaml:"max_num_reads"`

	// MaxNumJobs is the number of decompression jobs running at once.
	// Default: 2. Zero is rejected.
	MaxNumJobs int `yaml:"max_num_jobs"`

	// JobThreads sizes the dedicated job manager. Zero means
	// MaxNumJobs.
	JobThreads int `yaml:"job_threads"`
}

// ArchiveMount maps an archive file into the logical file namespace.
type ArchiveMount struct {
	// Path is the archive file.
	Path string `yaml:"path"`

	// MountPoint is the directory the archive's entries appear under.
	MountPoint string `yaml:"mount_point"`
}

// Default returns the default configuration. Every field has a usable
// value, so an empty config file yields a working stack.
func Default() *Config {
	return &Config{
		Environment: Development,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Scheduler: SchedulerConfig{
			Name:             "streamer",
			IdleWakeInterval: "100ms",
		},
		Drive: DriveConfig{
			MaxFileHandles:          32,
			MaxMetaDataCacheEntries: 64,
			Overcommit:              2,
			SeekPenalty:             "auto",
			ProbePath:               ".",
		},
		DedicatedCache: DedicatedCacheConfig{
			Enabled:    true,
			BlockSize:  "1MiB",
			BlockCount: 8,
		},
		Decompressor: DecompressorConfig{
			Enabled:     true,
			MaxNumReads: 2,
			MaxNumJobs:  2,
		},
	}
}

// Load loads configuration from the STREAMER_CONFIG environment
// variable. There is no fallback when it is unset.
func Load() (*Config, error) {
	configPath := os.Getenv("STREAMER_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("STREAMER_CONFIG environment variable not set; " +
			"set it to the path of your streamer config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path on top of Default, applies
// the matching environment section, expands path variables, and
// validates the result.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes configuration from memory. isJSONC selects JSONC
// decoding. Overrides and expansion are applied, validation is not.
func Parse(data []byte, isJSONC bool) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data, isJSONC); err != nil {
		return nil, err
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	extension := strings.ToLower(filepath.Ext(path))
	return c.decode(data, extension == ".json" || extension == ".jsonc")
}

// decode merges data into c. JSONC is normalized to strict JSON, which
// the YAML decoder accepts as a subset.
func (c *Config) decode(data []byte, isJSONC bool) error {
	if isJSONC {
		data = jsonc.ToJSON(data)
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &Overrides{Drive: &DriveConfig{MinimalReporting: true}}
		}
	}
	if overrides == nil {
		return
	}

	if overrides.Logging != nil {
		if overrides.Logging.Level != "" {
			c.Logging.Level = overrides.Logging.Level
		}
		if overrides.Logging.Format != "" {
			c.Logging.Format = overrides.Logging.Format
		}
	}

	if overrides.Drive != nil {
		if overrides.Drive.MaxFileHandles != 0 {
			c.Drive.MaxFileHandles = overrides.Drive.MaxFileHandles
		}
		if overrides.Drive.MaxMetaDataCacheEntries != 0 {
			c.Drive.MaxMetaDataCacheEntries = overrides.Drive.MaxMetaDataCacheEntries
		}
		if overrides.Drive.IOChannelCount != 0 {
			c.Drive.IOChannelCount = overrides.Drive.IOChannelCount
		}
		if overrides.Drive.Overcommit != 0 {
			c.Drive.Overcommit = overrides.Drive.Overcommit
		}
		if overrides.Drive.SeekPenalty != "" {
			c.Drive.SeekPenalty = overrides.Drive.SeekPenalty
		}
		// MinimalReporting is a bool, so it is always applied.
		c.Drive.MinimalReporting = overrides.Drive.MinimalReporting
	}

	if overrides.Decompressor != nil {
		if overrides.Decompressor.MaxNumReads != 0 {
			c.Decompressor.MaxNumReads = overrides.Decompressor.MaxNumReads
		}
		if overrides.Decompressor.MaxNumJobs != 0 {
			c.Decompressor.MaxNumJobs = overrides.Decompressor.MaxNumJobs
		}
		if overrides.Decompressor.JobThreads != 0 {
			c.Decompressor.JobThreads = overrides.Decompressor.JobThreads
		}
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{"HOME": os.Getenv("HOME")}
	c.Drive.ProbePath = expandVars(c.Drive.ProbePath, vars)
	for i := range c.Devices {
		device := &c.Devices[i]
		device.ProbePath = expandVars(device.ProbePath, vars)
		for j := range device.Roots {
			device.Roots[j] = expandVars(device.Roots[j], vars)
		}
	}
	for i := range c.Archives {
		c.Archives[i].Path = expandVars(c.Archives[i].Path, vars)
		c.Archives[i].MountPoint = expandVars(c.Archives[i].MountPoint, vars)
	}
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// BlockSizeBytes parses DedicatedCache.BlockSize.
func (c *Config) BlockSizeBytes() (uint64, error) {
	size, err := humanize.ParseBytes(c.DedicatedCache.BlockSize)
	if err != nil {
		return 0, fmt.Errorf("dedicated_cache.block_size: %w", err)
	}
	return size, nil
}

// IdleWakeInterval parses Scheduler.IdleWakeInterval. Empty means
// disabled.
func (c *Config) IdleWakeInterval() (time.Duration, error) {
	if c.Scheduler.IdleWakeInterval == "" {
		return 0, nil
	}
	interval, err := time.ParseDuration(c.Scheduler.IdleWakeInterval)
	if err != nil {
		return 0, fmt.Errorf("scheduler.idle_wake_interval: %w", err)
	}
	return interval, nil
}

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be one of debug, info, warn, error"))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		errs = append(errs, fmt.Errorf("logging.format must be json or text"))
	}
	if interval, err := c.IdleWakeInterval(); err != nil {
		errs = append(errs, err)
	} else if interval < 0 {
		errs = append(errs, fmt.Errorf("scheduler.idle_wake_interval must not be negative"))
	}

	if c.Drive.MaxFileHandles < 1 {
		errs = append(errs, fmt.Errorf("drive.max_file_handles must be at least 1"))
	}
	if c.Drive.MaxMetaDataCacheEntries < 1 {
		errs = append(errs, fmt.Errorf("drive.max_metadata_cache_entries must be at least 1"))
	}
	if c.Drive.IOChannelCount < 0 || c.Drive.Overcommit < 0 {
		errs = append(errs, fmt.Errorf("drive.io_channel_count and drive.overcommit must not be negative"))
	}
	switch c.Drive.SeekPenalty {
	case "auto", "on", "off":
	default:
		errs = append(errs, fmt.Errorf("drive.seek_penalty must be one of auto, on, off"))
	}

	names := make(map[string]bool, len(c.Devices))
	for i, device := range c.Devices {
		switch {
		case device.Name == "":
			errs = append(errs, fmt.Errorf("devices[%d].name is required", i))
		case names[device.Name]:
			errs = append(errs, fmt.Errorf("devices[%d].name %q is used twice", i, device.Name))
		}
		names[device.Name] = true
		if len(device.Roots) == 0 {
			errs = append(errs, fmt.Errorf("devices[%d].roots needs at least one directory", i))
		}
		for j, root := range device.Roots {
			if root == "" {
				errs = append(errs, fmt.Errorf("devices[%d].roots[%d] is empty", i, j))
			}
		}
		if device.IOChannelCount < 0 {
			errs = append(errs, fmt.Errorf("devices[%d].io_channel_count must not be negative", i))
		}
		switch device.EffectiveSeekPenalty() {
		case "auto", "on", "off":
		default:
			errs = append(errs, fmt.Errorf("devices[%d].seek_penalty must be one of auto, on, off", i))
		}
	}

	if c.DedicatedCache.Enabled {
		if size, err := c.BlockSizeBytes(); err != nil {
			errs = append(errs, err)
		} else if size == 0 {
			errs = append(errs, fmt.Errorf("dedicated_cache.block_size must not be zero"))
		}
		if c.DedicatedCache.BlockCount < 1 {
			errs = append(errs, fmt.Errorf("dedicated_cache.block_count must be at least 1"))
		}
	}

	if c.Decompressor.Enabled {
		if c.Decompressor.MaxNumReads < 1 {
			errs = append(errs, fmt.Errorf("decompressor.max_num_reads must be at least 1"))
		}
		if c.Decompressor.MaxNumJobs < 1 {
			errs = append(errs, fmt.Errorf("decompressor.max_num_jobs must be at least 1"))
		}
		if c.Decompressor.JobThreads < 0 {
			errs = append(errs, fmt.Errorf("decompressor.job_threads must not be negative"))
		}
	}

	for i, mount := range c.Archives {
		if mount.Path == "" {
			errs = append(errs, fmt.Errorf("archives[%d].path is required", i))
		}
		if mount.MountPoint == "" {
			errs = append(errs, fmt.Errorf("archives[%d].mount_point is required", i))
		}
	}

	return errors.Join(errs...)
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
