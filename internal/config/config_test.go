package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"
)

func noEnv(string) (string, bool) { return "", false }

func mapEnv(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, dir, name, content string, mode os.FileMode) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), mode); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

// ─── Defaults ────────────────────────────────────────────────────────────────

func TestDefault(t *testing.T) {
	c := Default()
	if c.WorkerPath != "./taby.sh" {
		t.Errorf("WorkerPath = %q", c.WorkerPath)
	}
	if c.RTSPBasePort != 8554 || c.HTTPBasePort != 8080 || c.PortIncrement != 10 {
		t.Errorf("ports = %d/%d/%d", c.RTSPBasePort, c.HTTPBasePort, c.PortIncrement)
	}
	if c.MaxConcurrent != 5 {
		t.Errorf("MaxConcurrent = %d, want 5", c.MaxConcurrent)
	}
	if c.LogDir != "/tmp/taby-controller-logs" {
		t.Errorf("LogDir = %q", c.LogDir)
	}
	if !c.Streaming {
		t.Error("streaming should default on")
	}
}

// ─── Load ────────────────────────────────────────────────────────────────────

func TestLoad_ShortFlags(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load("tabyctl", []string{
		"-p", "list.txt",
		"-u", "https://a.example/1",
		"-u", "https://a.example/2",
		"-s", "/opt/taby.sh",
		"-l",
		"--env-file", filepath.Join(dir, "missing.env"),
		"https://a.example/3",
	}, noEnv)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Playlist != "list.txt" || cfg.WorkerPath != "/opt/taby.sh" || !cfg.ListOnly {
		t.Errorf("got playlist=%q worker=%q list=%v", cfg.Playlist, cfg.WorkerPath, cfg.ListOnly)
	}
	want := []string{"https://a.example/1", "https://a.example/2", "https://a.example/3"}
	if diff := cmp.Diff(want, cfg.URLs); diff != "" {
		t.Errorf("URLs mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "taby.json", `{
		"max_concurrent": 2,
		"rtsp_base_port": 9000,
		"http_base_port": 9500,
		"stop_grace": "7s",
		"log_dir": "/var/log/taby"
	}`, 0o644)
	envFile := writeFile(t, dir, ".env", "TABY_MAX_CONCURRENT=3\nTABY_HTTP_BASE_PORT=9600\n", 0o644)

	env := mapEnv(map[string]string{"TABY_HTTP_BASE_PORT": "9700"})
	cfg, err := Load("tabyctl", []string{
		"--config", file,
		"--env-file", envFile,
		"--rtsp-base-port", "9100",
	}, env)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// flag > process env > .env > file > default
	if cfg.RTSPBasePort != 9100 {
		t.Errorf("RTSPBasePort = %d, want flag value 9100", cfg.RTSPBasePort)
	}
	if cfg.HTTPBasePort != 9700 {
		t.Errorf("HTTPBasePort = %d, want process env value 9700", cfg.HTTPBasePort)
	}
	if cfg.MaxConcurrent != 3 {
		t.Errorf("MaxConcurrent = %d, want .env value 3", cfg.MaxConcurrent)
	}
	if cfg.LogDir != "/var/log/taby" || time.Duration(cfg.StopGrace) != 7*time.Second {
		t.Errorf("file values lost: logdir=%q stopgrace=%v", cfg.LogDir, time.Duration(cfg.StopGrace))
	}
	if cfg.PortIncrement != 10 {
		t.Errorf("PortIncrement = %d, want default 10", cfg.PortIncrement)
	}
}

func TestLoad_NoStreamingAndDebug(t *testing.T) {
	cfg, err := Load("tabyctl", []string{"--no-streaming", "--debug", "--env-file", ""}, noEnv)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Streaming {
		t.Error("--no-streaming should disable streaming")
	}
	if cfg.Level() != "debug" {
		t.Errorf("Level() = %q, want debug", cfg.Level())
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load("tabyctl", []string{"--help"}, noEnv); !errors.Is(err, pflag.ErrHelp) {
		t.Errorf("--help: got %v, want pflag.ErrHelp", err)
	}
	if _, err := Load("tabyctl", []string{"--bogus"}, noEnv); !errors.Is(err, ErrInvalid) {
		t.Errorf("unknown flag: got %v, want ErrInvalid", err)
	}
	if _, err := Load("tabyctl", []string{"--config", "/nonexistent/taby.json"}, noEnv); !errors.Is(err, ErrInvalid) {
		t.Errorf("missing config file: got %v, want ErrInvalid", err)
	}
	env := mapEnv(map[string]string{"TABY_MAX_CONCURRENT": "many"})
	if _, err := Load("tabyctl", []string{"--env-file", ""}, env); !errors.Is(err, ErrInvalid) {
		t.Errorf("bad env value: got %v, want ErrInvalid", err)
	}
}

// ─── Validate ────────────────────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	worker := writeFile(t, dir, "taby.sh", "#!/bin/sh\n", 0o755)
	plain := writeFile(t, dir, "plain.sh", "#!/bin/sh\n", 0o644)

	valid := func() Config {
		c := Default()
		c.WorkerPath = worker
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults with worker", func(*Config) {}, ""},
		{"zero max", func(c *Config) { c.MaxConcurrent = 0 }, "max concurrent"},
		{"zero increment", func(c *Config) { c.PortIncrement = 0 }, "increment"},
		{"overflow", func(c *Config) { c.RTSPBasePort = 65530 }, "above"},
		{"overflow ignored without streaming", func(c *Config) { c.RTSPBasePort = 65530; c.Streaming = false }, ""},
		{"missing worker", func(c *Config) { c.WorkerPath = filepath.Join(dir, "nope") }, "worker executable"},
		{"not executable", func(c *Config) { c.WorkerPath = plain }, "not an executable"},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, "log format"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log level"},
		{"zero stop grace", func(c *Config) { c.StopGrace = 0 }, "stop grace"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("got %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_DurationErrorsInFieldOrder(t *testing.T) {
	dir := t.TempDir()
	c := Default()
	c.WorkerPath = writeFile(t, dir, "taby.sh", "#!/bin/sh\n", 0o755)
	c.ResolverTimeout, c.StartGrace, c.StopGrace, c.PollInterval = 0, 0, 0, 0

	err := c.Validate()
	if err == nil {
		t.Fatal("Validate accepted zero durations")
	}
	want := "resolver timeout must be positive\n" +
		"start grace must be positive\n" +
		"stop grace must be positive\n" +
		"poll interval must be positive"
	for i := 0; i < 5; i++ {
		if got := c.Validate().Error(); !strings.Contains(got, want) {
			t.Fatalf("Validate error =\n%s\nwant it to contain\n%s", got, want)
		}
	}
}

// ─── Playlist ────────────────────────────────────────────────────────────────

func TestReadPlaylist(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "list.txt", "# morning\nhttps://a.example/1\n\n  https://a.example/2  \n#https://skip\n", 0o644)
	got, err := ReadPlaylist(p)
	if err != nil {
		t.Fatalf("ReadPlaylist: %v", err)
	}
	want := []string{"https://a.example/1", "https://a.example/2"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("playlist mismatch (-want +got):\n%s", diff)
	}

	if _, err := ReadPlaylist(filepath.Join(dir, "missing.txt")); !errors.Is(err, ErrInvalid) {
		t.Errorf("missing playlist: got %v, want ErrInvalid", err)
	}
}
