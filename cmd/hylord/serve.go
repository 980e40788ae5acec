package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/hylord"
	"github.com/loykin/hylord/internal/logger"
)

// ServeFlags holds flags for the serve command
type ServeFlags struct {
	Daemonize bool
	PidFile   string
	LogFile   string
	NoWatch   bool
}

func createServeCommand(global *GlobalFlags) *cobra.Command {
	flags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.json]",
		Short: "Run the supervisor daemon",
		Long: `Run the supervisor daemon: the game server process, player tracking,
maintenance schedules and the HTTP API. Schedule edits in the config file
apply without a restart.

Examples:
  hylord serve
  hylord serve /srv/hytale/hylord.json
  hylord serve --daemonize --pidfile /run/hylord.pid --logfile /var/log/hylord.out`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := global.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			return runServe(path, flags)
		},
	}
	cmd.Flags().BoolVar(&flags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&flags.PidFile, "pidfile", "", "write daemon PID to file")
	cmd.Flags().StringVar(&flags.LogFile, "logfile", "", "redirect daemon stdout/stderr to file")
	cmd.Flags().BoolVar(&flags.NoWatch, "no-watch", false, "do not reload the config file on change")
	return cmd
}

func runServe(path string, flags *ServeFlags) error {
	cfg, err := hylord.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if flags.Daemonize {
		return daemonize(flags.PidFile, flags.LogFile)
	}
	if flags.PidFile != "" {
		if err := writePidFile(flags.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = removePidFile(flags.PidFile) }()
	}

	_, logCloser := logger.Setup(cfg.Log, os.Stderr)
	defer func() { _ = logCloser.Close() }()

	if cfg.Metrics.Enabled {
		if err := hylord.RegisterMetricsDefault(); err != nil {
			slog.Warn("Failed to register metrics", "error", err)
		}
	}

	var opts []hylord.Option
	if w := cfg.Log.ConsoleWriter(); w != nil {
		defer func() { _ = w.Close() }()
		opts = append(opts, hylord.WithConsole(w))
	}
	mgr, err := hylord.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}

	if !flags.NoWatch && cfg.Path() != "" {
		if _, statErr := os.Stat(cfg.Path()); statErr == nil {
			if err := hylord.WatchConfig(cfg.Path(), mgr); err != nil {
				slog.Warn("Config watch disabled", "error", err)
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	if cfg.HTTP.Enabled {
		srv, err = hylord.NewHTTPServer(cfg, mgr)
		if err != nil {
			_ = mgr.Shutdown()
			return fmt.Errorf("failed to create HTTP server: %w", err)
		}
		go serveHTTP(srv, stop)
		slog.Info("API listening", "addr", cfg.HTTP.Listen, "base", cfg.HTTP.BasePath, "tls", srv.TLSConfig != nil)
	}

	runErr := mgr.Run(ctx)
	slog.Info("Shutting down")
	if srv != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}
	return runErr
}

// serveHTTP cancels the daemon when the listener fails.
func serveHTTP(srv *http.Server, cancel context.CancelFunc) {
	var err error
	if srv.TLSConfig != nil {
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("API server failed", "error", err)
		cancel()
	}
}
