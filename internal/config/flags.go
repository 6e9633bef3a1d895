package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

// durationFlag adapts *Duration to pflag.
type durationFlag struct{ d *Duration }

func (f durationFlag) String() string { return time.Duration(*f.d).String() }
func (f durationFlag) Type() string   { return "duration" }
func (f durationFlag) Set(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*f.d = Duration(v)
	return nil
}

// negatedBool sets *b to the inverse of the flag value.
type negatedBool struct{ b *bool }

func (f negatedBool) String() string   { return strconv.FormatBool(!*f.b) }
func (f negatedBool) Type() string     { return "bool" }
func (f negatedBool) IsBoolFlag() bool { return true }
func (f negatedBool) Set(s string) error {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*f.b = !v
	return nil
}

// AddFlags binds every command-line flag to c. Current field values become
// the flag defaults.
func (c *Config) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.Playlist, "playlist", "p", c.Playlist, "playlist file with one URL per line")
	fs.StringArrayVarP(&c.URLs, "url", "u", c.URLs, "add URL to the queue (repeatable)")
	fs.StringVarP(&c.WorkerPath, "script", "s", c.WorkerPath, "path to the worker executable")
	fs.BoolVarP(&c.ListOnly, "list", "l", c.ListOnly, "print instances and configuration, then exit")
	fs.IntVar(&c.RTSPBasePort, "rtsp-base-port", c.RTSPBasePort, "base RTSP port")
	fs.IntVar(&c.HTTPBasePort, "http-base-port", c.HTTPBasePort, "base HTTP port")
	fs.IntVar(&c.PortIncrement, "port-increment", c.PortIncrement, "port increment per instance slot")
	fs.IntVar(&c.MaxConcurrent, "max-concurrent", c.MaxConcurrent, "maximum concurrent instances")
	fs.StringVar(&c.LogDir, "log-dir", c.LogDir, "directory for per-instance worker logs")
	fs.VarPF(negatedBool{&c.Streaming}, "no-streaming", "", "start workers without RTSP/HTTP ports").NoOptDefVal = "true"
	fs.StringVar(&c.ResolverPath, "resolver", c.ResolverPath, "yt-dlp binary used to look up titles")
	fs.Var(durationFlag{&c.ResolverTimeout}, "resolver-timeout", "title lookup timeout")
	fs.Var(durationFlag{&c.TitleCacheTTL}, "title-cache-ttl", "how long looked-up titles are reused")
	fs.Var(durationFlag{&c.StartGrace}, "start-grace", "time a worker must stay alive to count as running")
	fs.Var(durationFlag{&c.StopGrace}, "stop-grace", "time between SIGTERM and SIGKILL when stopping")
	fs.Var(durationFlag{&c.PollInterval}, "poll-interval", "worker liveness polling interval")
	fs.Float64Var(&c.SpawnRate, "spawn-rate", c.SpawnRate, "maximum worker starts per second")
	fs.IntVar(&c.SpawnBurst, "spawn-burst", c.SpawnBurst, "worker start burst size")
	fs.BoolVar(&c.RequeueFailed, "requeue-failed", c.RequeueFailed, "put items whose worker failed to start back at the queue tail")
	fs.BoolVar(&c.ProbePorts, "probe-ports", c.ProbePorts, "warn when an allocated port is already accepting connections")
	fs.BoolVar(&c.WatchPlaylist, "watch-playlist", c.WatchPlaylist, "enqueue lines appended to the playlist file")
	fs.StringVar(&c.HTTPAddr, "http-addr", c.HTTPAddr, "serve the HTTP status/command API on this address")
	fs.BoolVar(&c.MDNS, "mdns", c.MDNS, "advertise the HTTP API over mDNS")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn, error")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "shorthand for --log-level debug")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "log format: text or json")
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "JSON configuration file")
	fs.StringVar(&c.EnvFile, "env-file", c.EnvFile, "dotenv file with TABY_* variables")
}

// Load builds the configuration from args (without the program name) and
// the environment. Flags win over the environment, which wins over the
// config file, which wins over defaults. Positional arguments are URLs.
// pflag.ErrHelp is returned unchanged.
func Load(name string, args []string, lookup LookupFunc) (Config, error) {
	// First pass: learn which flags were given and where the files live.
	given := Default()
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	given.AddFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return Config{}, err
		}
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	cfg := Default()
	if given.ConfigFile != "" {
		if err := cfg.LoadFile(given.ConfigFile); err != nil {
			return Config{}, err
		}
	}
	envLookup, err := WithEnvFile(lookup, given.EnvFile)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.ApplyEnv(envLookup); err != nil {
		return Config{}, err
	}

	// Second pass: replay only the flags that were set on top of the layers.
	final := pflag.NewFlagSet(name, pflag.ContinueOnError)
	cfg.AddFlags(final)
	var replayErr error
	fs.Visit(func(f *pflag.Flag) {
		dst := final.Lookup(f.Name)
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			if dv, ok := dst.Value.(pflag.SliceValue); ok {
				replayErr = errors.Join(replayErr, dv.Replace(sv.GetSlice()))
				return
			}
		}
		replayErr = errors.Join(replayErr, final.Set(f.Name, f.Value.String()))
	})
	if replayErr != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, replayErr)
	}
	cfg.URLs = append(cfg.URLs, fs.Args()...)
	return cfg, nil
}
