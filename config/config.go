// Package config holds the settings of a kiyo window: resolution, present
// mode, frame pacing and diagnostics.
package config

import (
	"log/slog"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Width  int  `yaml:"width"`
	Height int  `yaml:"height"`
	VSync  bool `yaml:"vsync"`
	// LogFPS logs the frame rate once a second.
	LogFPS bool `yaml:"log_fps"`
	// FramesInFlight is the number of frame slots; zero means one per
	// swapchain image.
	FramesInFlight int `yaml:"frames_in_flight"`
	WorkgroupSize  int `yaml:"workgroup_size"`
	// Validation enables the Khronos validation layer and routes its
	// messages to the log.
	Validation bool   `yaml:"validation"`
	LogLevel   string `yaml:"log_level"`
	// MetricsAddr serves Prometheus metrics when set, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr"`
	// Watch rebuilds programs when their shader sources change.
	Watch bool `yaml:"watch"`
}

func Default() Config {
	return Config{
		Width:         1000,
		Height:        1000,
		VSync:         true,
		WorkgroupSize: 32,
		LogLevel:      "info",
		Watch:         true,
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default value.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs error
	if c.Width <= 0 || c.Height <= 0 {
		errs = errors.CombineErrors(errs, errors.Newf("invalid resolution %dx%d", c.Width, c.Height))
	}
	if c.FramesInFlight < 0 {
		errs = errors.CombineErrors(errs, errors.Newf("invalid frames_in_flight %d", c.FramesInFlight))
	}
	if c.WorkgroupSize <= 0 {
		errs = errors.CombineErrors(errs, errors.Newf("invalid workgroup_size %d", c.WorkgroupSize))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	return errs
}

// ParseLevel maps a log_level value onto a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, errors.Newf("unknown log level %q", s)
}
