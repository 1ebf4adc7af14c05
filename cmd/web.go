package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaharia-lab/pendulum/internal/assets"
	"github.com/shaharia-lab/pendulum/internal/build"
	"github.com/shaharia-lab/pendulum/internal/config"
	"github.com/shaharia-lab/pendulum/internal/logger"
	"github.com/shaharia-lab/pendulum/internal/metrics"
	"github.com/shaharia-lab/pendulum/internal/server"
	"github.com/shaharia-lab/pendulum/internal/telemetry"
	"github.com/shaharia-lab/pendulum/internal/watch"
)

// NewWebCmd returns the "web" subcommand that starts the HTTP server.
func NewWebCmd() *cobra.Command {
	var (
		configPath string
		port       int
		host       string
		dir        string
		watchDir   bool
		open       bool
	)

	cmd := &cobra.Command{
		Use:   "web",
		Short: "Start the pendulum web server",
		Long: `Start the HTTP server that returns the index page for / and serves the
frontend assets under the static prefix (default /static).
Open http://localhost:<port> in your browser.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			// CLI flags override the config file and env config.
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("dir") {
				cfg.FrontendDir = dir
			}
			if cmd.Flags().Changed("watch") {
				cfg.Watch = watchDir
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			if err := runWeb(cmd.Context(), cfg, open); err != nil {
				fmt.Fprintf(os.Stderr, "An error occurred. Please check the logs at: %s\n", cfg.SystemLogFile())
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", os.Getenv("PENDULUM_CONFIG"), "Path to a YAML config file (overrides PENDULUM_CONFIG env var)")
	cmd.Flags().IntVar(&port, "port", config.DefaultPort, "HTTP server port (overrides PORT env var)")
	cmd.Flags().StringVar(&host, "host", "", "Interface to bind (overrides PENDULUM_HOST env var)")
	cmd.Flags().StringVar(&dir, "dir", "", "Frontend directory to serve instead of the embedded one")
	cmd.Flags().BoolVar(&watchDir, "watch", false, "Log changes under the frontend directory")
	cmd.Flags().BoolVar(&open, "open", false, "Open the browser once the server is ready")

	return cmd
}

func runWeb(parent context.Context, cfg *config.AppConfig, open bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var m *metrics.Metrics
	if !cfg.DisableMetrics {
		m = metrics.New()
	}

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    "pendulum",
		ServiceVersion: build.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Registerer:     m.Registerer(),
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	sysLogger, logCloser, err := logger.NewSystemLogger(cfg.SystemLogFile(), cfg.SlogLevel(), tel.LogHandler())
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logCloser.Close()

	fsys, source, closer, err := openFrontend(cfg)
	if err != nil {
		sysLogger.Error("opening frontend", "error", err)
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	sysLogger.Info("pendulum starting",
		slog.String("addr", cfg.Addr()),
		slog.String("frontend", source),
		slog.String("index_file", cfg.IndexFile),
		slog.String("static_prefix", cfg.StaticPrefix),
		slog.String("data_dir", cfg.DataDir),
		slog.String("version", build.Version),
		slog.String("commit", build.CommitSHA),
		slog.String("build_date", build.BuildDate),
	)

	warnBundledPrefix(sysLogger, cfg, source)

	h := assets.New(fsys, cfg.IndexFile, sysLogger, m)
	if err := h.Ready(); err != nil {
		sysLogger.Warn("index file is missing; GET / will return 404", "error", err)
	}

	opts := server.Options{
		Addr:           cfg.Addr(),
		Assets:         h,
		StaticPrefix:   cfg.StaticPrefix,
		Logger:         sysLogger,
		CORSOrigins:    cfg.CORSOrigins,
		TrustedProxies: cfg.TrustedProxies,
		RateLimit: server.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit,
			Burst:             cfg.RateBurst,
		},
		Metrics:   m,
		Telemetry: tel,
	}
	if cfg.AccessLog {
		w, err := logger.NewRotatingWriter(cfg.AccessLogFile(), logger.DefaultRotation())
		if err != nil {
			return fmt.Errorf("initializing access log: %w", err)
		}
		defer w.Close()
		opts.AccessLog = w
	}

	if cfg.Watch {
		if err := startWatcher(ctx, cfg, sysLogger, m); err != nil {
			sysLogger.Warn("asset watcher disabled", "error", err)
		}
	}

	srv := server.New(opts)

	url := serverURL(cfg)
	printBanner(os.Stdout, build.Version, url, source, cfg.SystemLogFile())
	sysLogger.Info("server ready", "url", url)

	if open {
		go openBrowser(url)
	}

	return srv.Run(ctx)
}

func startWatcher(ctx context.Context, cfg *config.AppConfig, sysLogger *slog.Logger, m *metrics.Metrics) error {
	if cfg.FrontendDir == "" && WebFS != nil {
		return fmt.Errorf("the embedded frontend cannot be watched; set --dir")
	}
	dir := cfg.FrontendDir
	if dir == "" {
		dir = defaultFrontendDir
	}
	w, err := watch.New(dir, sysLogger, func(ev watch.Event) {
		m.ObserveChange(ev.Op)
	})
	if err != nil {
		return err
	}
	go w.Run(ctx)
	return nil
}

func serverURL(cfg *config.AppConfig) string {
	host := cfg.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	c := *cfg
	c.Host = host
	return "http://" + c.Addr()
}

func openBrowser(url string) {
	time.Sleep(600 * time.Millisecond)
	ctx := context.Background()
	var c *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		c = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", url)
	case "darwin":
		c = exec.CommandContext(ctx, "open", url)
	default:
		c = exec.CommandContext(ctx, "xdg-open", url)
	}
	_ = c.Start()
}
