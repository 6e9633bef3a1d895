package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "TABY_"

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// WithEnvFile returns a lookup that consults lookup first and falls back to
// the variables in a .env file. A missing file is not an error.
func WithEnvFile(lookup LookupFunc, path string) (LookupFunc, error) {
	if path == "" {
		return lookup, nil
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return lookup, nil
		}
		return nil, fmt.Errorf("%w: env file %s: %w", ErrInvalid, path, err)
	}
	return func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := vars[key]
		return v, ok
	}, nil
}

// ApplyEnv overlays TABY_* variables onto c.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	dur := func(key string, dst *Duration) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = Duration(d)
		}
	}

	str("WORKER", &c.WorkerPath)
	num("RTSP_BASE_PORT", &c.RTSPBasePort)
	num("HTTP_BASE_PORT", &c.HTTPBasePort)
	num("PORT_INCREMENT", &c.PortIncrement)
	num("MAX_CONCURRENT", &c.MaxConcurrent)
	str("LOG_DIR", &c.LogDir)
	flag("STREAMING", &c.Streaming)
	str("RESOLVER", &c.ResolverPath)
	dur("RESOLVER_TIMEOUT", &c.ResolverTimeout)
	dur("STOP_GRACE", &c.StopGrace)
	dur("POLL_INTERVAL", &c.PollInterval)
	str("PLAYLIST", &c.Playlist)
	str("HTTP_ADDR", &c.HTTPAddr)
	flag("MDNS", &c.MDNS)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
