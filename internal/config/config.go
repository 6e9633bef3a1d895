// Package config builds the controller configuration, fixed for the
// controller's lifetime.
//
// Values are layered: defaults, then an optional JSON file (--config), then
// the environment (TABY_* variables, with a .env file filling in unset ones),
// then command-line flags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/micro-nova/tabyctl/internal/ports"
)

// ErrInvalid is wrapped by every configuration validation error.
var ErrInvalid = errors.New("invalid configuration")

// Duration is a time.Duration that reads and writes JSON as "10s".
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalJSON accepts "10s" strings or integer nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("duration must be a string like \"10s\": %w", err)
	}
	*d = Duration(n)
	return nil
}

// Config is the controller configuration.
type Config struct {
	WorkerPath    string `json:"worker_path"`
	RTSPBasePort  int    `json:"rtsp_base_port"`
	HTTPBasePort  int    `json:"http_base_port"`
	PortIncrement int    `json:"port_increment"`
	MaxConcurrent int    `json:"max_concurrent"`
	LogDir        string `json:"log_dir"`
	Streaming     bool   `json:"streaming"`

	ResolverPath    string   `json:"resolver_path"`
	ResolverTimeout Duration `json:"resolver_timeout"`
	TitleCacheTTL   Duration `json:"title_cache_ttl"`

	StartGrace   Duration `json:"start_grace"`
	StopGrace    Duration `json:"stop_grace"`
	PollInterval Duration `json:"poll_interval"`
	SpawnRate    float64  `json:"spawn_rate"`
	SpawnBurst   int      `json:"spawn_burst"`

	RequeueFailed bool `json:"requeue_failed"`
	ProbePorts    bool `json:"probe_ports"`

	Playlist      string   `json:"playlist,omitempty"`
	WatchPlaylist bool     `json:"watch_playlist"`
	URLs          []string `json:"urls,omitempty"`

	HTTPAddr string `json:"http_addr,omitempty"`
	MDNS     bool   `json:"mdns"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	// Set from the command line only.
	ConfigFile string `json:"-"`
	EnvFile    string `json:"-"`
	ListOnly   bool   `json:"-"`
	Debug      bool   `json:"-"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		WorkerPath:      "./taby.sh",
		RTSPBasePort:    8554,
		HTTPBasePort:    8080,
		PortIncrement:   10,
		MaxConcurrent:   5,
		LogDir:          "/tmp/taby-controller-logs",
		Streaming:       true,
		ResolverPath:    "yt-dlp",
		ResolverTimeout: Duration(10 * time.Second),
		TitleCacheTTL:   Duration(time.Hour),
		StartGrace:      Duration(2 * time.Second),
		StopGrace:       Duration(3 * time.Second),
		PollInterval:    Duration(2 * time.Second),
		SpawnRate:       4,
		SpawnBurst:      4,
		ProbePorts:      true,
		EnvFile:         ".env",
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// PortBase returns the port layout.
func (c Config) PortBase() ports.Base {
	return ports.Base{RTSP: c.RTSPBasePort, HTTP: c.HTTPBasePort, Increment: c.PortIncrement}
}

// LoadFile overlays the JSON file at path onto c. Keys absent from the file
// keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrInvalid, path, err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: parse %s: %w", ErrInvalid, path, err)
	}
	return nil
}

// Level returns the effective log level name.
func (c Config) Level() string {
	if c.Debug {
		return "debug"
	}
	return strings.ToLower(c.LogLevel)
}

// Validate reports configuration errors. They are fatal at startup.
func (c Config) Validate() error {
	var errs []error
	if c.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("max concurrent must be at least 1, got %d", c.MaxConcurrent))
	}
	if c.Streaming {
		if err := c.PortBase().Validate(c.MaxConcurrent); err != nil {
			errs = append(errs, err)
		}
	}
	if strings.TrimSpace(c.LogDir) == "" {
		errs = append(errs, errors.New("log directory must be set"))
	}
	for _, d := range []struct {
		name string
		val  Duration
	}{
		{"resolver timeout", c.ResolverTimeout},
		{"start grace", c.StartGrace},
		{"stop grace", c.StopGrace},
		{"poll interval", c.PollInterval},
	} {
		if d.val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.name))
		}
	}
	if err := checkExecutable(c.WorkerPath); err != nil {
		errs = append(errs, err)
	}
	switch c.Level() {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log level must be debug, info, warn or error, got %q", c.LogLevel))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log format must be text or json, got %q", c.LogFormat))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// checkExecutable requires path to be a regular file with an execute bit.
func checkExecutable(path string) error {
	if path == "" {
		return errors.New("worker executable must be set")
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("worker executable: %w", err)
	}
	if !info.Mode().IsRegular() || info.Mode().Perm()&0111 == 0 {
		return fmt.Errorf("worker executable %s is not an executable file", path)
	}
	return nil
}
