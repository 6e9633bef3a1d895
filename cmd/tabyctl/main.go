// Command tabyctl is the taby controller. It turns queued audio URLs into
// worker processes, keeps at most a fixed number of them running with their
// own ports and device names, and takes operator commands on stdin.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/micro-nova/tabyctl/internal/api"
	"github.com/micro-nova/tabyctl/internal/config"
	"github.com/micro-nova/tabyctl/internal/console"
	"github.com/micro-nova/tabyctl/internal/controller"
	"github.com/micro-nova/tabyctl/internal/events"
	"github.com/micro-nova/tabyctl/internal/identity"
	"github.com/micro-nova/tabyctl/internal/logging"
	"github.com/micro-nova/tabyctl/internal/metrics"
	"github.com/micro-nova/tabyctl/internal/models"
	"github.com/micro-nova/tabyctl/internal/naming"
	"github.com/micro-nova/tabyctl/internal/playlist"
	"github.com/micro-nova/tabyctl/internal/supervisor"
	"github.com/micro-nova/tabyctl/internal/zeroconf"
)

func main() {
	os.Exit(run(os.Args, os.Stdin, os.Stdout))
}

func run(args []string, stdin io.Reader, stdout io.Writer) int {
	cfg, err := config.Load(filepath.Base(args[0]), args[1:], os.LookupEnv)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "tabyctl:", err)
		return 1
	}
	slog.SetDefault(logging.New(cfg.Level(), cfg.LogFormat, os.Stderr))

	seeds, err := seedURLs(cfg)
	if err != nil {
		slog.Error("config: cannot load playlist", "err", err)
		return 1
	}
	if cfg.ListOnly {
		printSummary(stdout, cfg, seeds)
		return 0
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config: invalid configuration", "err", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	info := identity.Get()
	met := metrics.New()
	bus := events.NewBus()

	sup := supervisor.New(cfg.WorkerPath, cfg.LogDir,
		supervisor.WithStopGrace(cfg.StopGrace.Std()),
		supervisor.WithSpawnRate(cfg.SpawnRate, cfg.SpawnBurst),
	)
	var titles naming.TitleSource
	if yt := naming.NewYtDlp(cfg.ResolverPath); yt.Available() {
		titles = yt
	} else {
		slog.Warn("naming: title resolver not found, instances get fallback names", "resolver", cfg.ResolverPath)
	}
	resolver := naming.NewResolver(titles,
		naming.WithTimeout(cfg.ResolverTimeout.Std()),
		naming.WithCacheTTL(cfg.TitleCacheTTL.Std()),
	)

	ctrl := controller.New(cfg, sup, resolver, controller.WithBus(bus), controller.WithMetrics(met))
	interp := console.New(ctrl, info.Host, met)

	// The loop is not running yet, so seeding happens directly.
	for _, u := range seeds {
		item, cerr := models.ParseWorkItem(u)
		if cerr != nil {
			slog.Warn("config: skipping invalid URL", "url", u, "err", cerr)
			continue
		}
		ctrl.Enqueue(item)
	}
	ctrl.AdmitUpTo(ctx)
	fmt.Fprintln(stdout, ctrl.StatusLine())
	slog.Info("tabyctl started", "version", info.Version, "worker", cfg.WorkerPath,
		"max_concurrent", cfg.MaxConcurrent, "streaming", cfg.Streaming, "log_dir", cfg.LogDir)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	loopDone := make(chan struct{})
	go func() {
		_ = ctrl.Run(runCtx)
		close(loopDone)
	}()

	var g errgroup.Group
	exitCode := 0

	if cfg.HTTPAddr != "" {
		srv := &http.Server{
			Addr: cfg.HTTPAddr,
			Handler: api.NewRouter(api.Deps{
				Ctrl:     ctrl,
				Commands: interp,
				Events:   bus,
				Metrics:  met,
				Info:     info,
				Quit:     stop,
			}),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
		g.Go(func() error {
			slog.Info("api: listening", "addr", cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("api: server error", "err", err)
				exitCode = 1
				stop()
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-runCtx.Done()
			shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutCancel()
			return srv.Shutdown(shutCtx)
		})

		if cfg.MDNS {
			if port, err := zeroconf.PortFromAddr(cfg.HTTPAddr); err != nil {
				slog.Warn("zeroconf: not advertising", "err", err)
			} else {
				zc := zeroconf.New(info.Hostname, port, zeroconf.TXT(info.Version, cfg.MaxConcurrent)...)
				g.Go(func() error {
					if err := zc.Start(runCtx); err != nil {
						slog.Warn("zeroconf: failed", "err", err)
					}
					return nil
				})
			}
		}
	}

	if cfg.WatchPlaylist && cfg.Playlist != "" {
		w, err := playlist.New(cfg.Playlist, seeds[:len(seeds)-len(cfg.URLs)], func(ctx context.Context, u string) {
			resp := interp.Exec(ctx, "add "+u)
			if resp.Err != nil {
				slog.Warn("playlist: entry rejected", "url", u, "err", resp.Err)
			}
		})
		if err != nil {
			slog.Warn("playlist: not watching", "err", err)
		} else {
			g.Go(func() error {
				_ = w.Run(runCtx)
				return nil
			})
		}
	}

	g.Go(func() error {
		quit, err := interp.Serve(runCtx, stdin, stdout, isTerminal(stdin))
		switch {
		case quit:
			stop()
		case err == nil && cfg.HTTPAddr == "":
			// End of input with no other control channel.
			stop()
		case err == nil:
			slog.Info("console: end of input, still serving the HTTP API")
		}
		return nil
	})

	<-runCtx.Done()
	<-loopDone
	slog.Info("shutting down...")

	// The loop has exited, so the controller is safe to use here.
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 2*cfg.StopGrace.Std()+5*time.Second)
	defer shutCancel()
	if stopped := ctrl.StopAll(shutCtx); len(stopped) > 0 {
		slog.Info("stopped remaining instances", "count", len(stopped))
	}

	if err := g.Wait(); err != nil && exitCode == 0 {
		slog.Warn("shutdown error", "err", err)
	}
	slog.Info("shutdown complete")
	return exitCode
}

// seedURLs returns the playlist entries followed by the command-line URLs.
func seedURLs(cfg config.Config) ([]string, error) {
	var urls []string
	if cfg.Playlist != "" {
		list, err := config.ReadPlaylist(cfg.Playlist)
		if err != nil {
			return nil, err
		}
		urls = append(urls, list...)
	}
	return append(urls, cfg.URLs...), nil
}

// printSummary writes the list-only report.
func printSummary(w io.Writer, cfg config.Config, seeds []string) {
	fmt.Fprintln(w, "No instances.")
	fmt.Fprintf(w, "Worker: %s\n", cfg.WorkerPath)
	fmt.Fprintf(w, "Max concurrent: %d\n", cfg.MaxConcurrent)
	if cfg.Streaming {
		fmt.Fprintf(w, "Ports: rtsp %d, http %d, +%d per instance\n", cfg.RTSPBasePort, cfg.HTTPBasePort, cfg.PortIncrement)
	} else {
		fmt.Fprintln(w, "Streaming: disabled")
	}
	fmt.Fprintf(w, "Log dir: %s\n", cfg.LogDir)
	fmt.Fprintf(w, "Queued at startup: %d\n", len(seeds))
	for i, u := range seeds {
		fmt.Fprintf(w, "%d. %s\n", i+1, u)
	}
}

// isTerminal reports whether r is an interactive terminal.
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	_, err := unix.IoctlGetTermios(int(f.Fd()), unix.TCGETS)
	return err == nil
}
