package cmd

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/astyled"
	"github.com/Zereker/astyled/formatter"
	"github.com/Zereker/astyled/internal/config"
	"github.com/Zereker/astyled/internal/metrics"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the formatting server",
	Long: `Start the ASTYLE protocol server. Each connection carries one request and
receives one reply.

Examples:
  astyled serve --listen :8007
  astyled serve --config astyled.toml --metrics-listen 127.0.0.1:9107
  astyled serve --backend command --formatter-path /usr/bin/astyle`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "", "TCP address to accept requests on (default :8007)")
	serveCmd.Flags().String("metrics-listen", "", "HTTP address for /metrics and /healthz (disabled when empty)")
	serveCmd.Flags().String("log-level", "", "Log level: debug, info, warn, error")
	serveCmd.Flags().String("backend", "", "Formatter backend: builtin or command")
	serveCmd.Flags().String("formatter-path", "", "Executable used by the command backend")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyServeFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.Log, cmd.ErrOrStderr())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	handler, err := astyled.NewHandler(
		astyled.TransformerOption(newTransformer(cfg.Formatter)),
		astyled.CodecOption(cfg.Codec()),
		astyled.ReadTimeoutOption(cfg.ReadTimeout),
		astyled.MaxOutputSizeOption(cfg.MaxOutputSize),
		astyled.LoggerOption(logger),
		astyled.ObserverOption(metrics.New(reg)),
	)
	if err != nil {
		return err
	}

	addr, err := net.ResolveTCPAddr("tcp", cfg.Listen)
	if err != nil {
		return errors.Wrapf(err, "resolve %s", cfg.Listen)
	}
	server, err := astyled.New(addr,
		astyled.ServerLoggerOption(logger),
		astyled.ServerShutdownTimeoutOption(cfg.ShutdownTimeout),
		astyled.ServerMaxConnsOption(cfg.MaxConns),
	)
	if err != nil {
		return errors.Wrapf(err, "listen %s", cfg.Listen)
	}
	defer server.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := server.Serve(gctx, handler)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if cfg.MetricsListen != "" {
		httpServer := &http.Server{
			Addr:              cfg.MetricsListen,
			Handler:           metrics.Router(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		group.Go(func() error {
			logger.Info("metrics server started", "addr", cfg.MetricsListen)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "metrics server")
			}
			return nil
		})
		group.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout+time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	return group.Wait()
}

func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Listen, _ = flags.GetString("listen")
	}
	if flags.Changed("metrics-listen") {
		cfg.MetricsListen, _ = flags.GetString("metrics-listen")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("backend") {
		cfg.Formatter.Backend, _ = flags.GetString("backend")
	}
	if flags.Changed("formatter-path") {
		cfg.Formatter.Path, _ = flags.GetString("formatter-path")
	}
}

func newTransformer(cfg config.FormatterConfig) astyled.Transformer {
	if cfg.Backend == config.BackendCommand {
		return &formatter.Command{Path: cfg.Path, Args: cfg.Args, Timeout: cfg.Timeout}
	}
	return formatter.NewIndent()
}
