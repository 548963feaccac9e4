package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tsarna/actionsocket/pkg/actionsocket/action"
	"github.com/tsarna/actionsocket/pkg/actionsocket/chat"
	"github.com/tsarna/actionsocket/pkg/actionsocket/config"
	"github.com/tsarna/actionsocket/pkg/actionsocket/dispatch"
	"github.com/tsarna/actionsocket/pkg/actionsocket/o11y"
	"github.com/tsarna/actionsocket/pkg/actionsocket/otel"
	"go.uber.org/zap"
)

var serverCmd = &cobra.Command{
	Use:   "server [config-files-or-directories...]",
	Short: "Start the actionsocket server",
	Long: `Start the WebSocket server with the chat controllers, configured from the
given HCL files or directories of .hcl files. Without arguments the defaults
are used.

Examples:
  actionsocket server
  actionsocket server config.hcl
  actionsocket server ./configs/ overrides.hcl`,
	RunE: runServer,
}

var (
	historySize int
	roomLimit   int
)

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().IntVar(&historySize, "history", chat.DefaultHistorySize, "messages kept per chat room")
	serverCmd.Flags().IntVar(&roomLimit, "room-limit", chat.DefaultRoomLimit, "members allowed per chat room")
}

// loadConfig builds the configuration from the command arguments.
func loadConfig(args []string) (*config.Config, error) {
	cfg, diags := config.NewConfig().
		WithSources(stringSliceToAnySlice(args)...).
		Build()
	if diags.HasErrors() {
		return nil, diags
	}
	return cfg, nil
}

// registry declares every controller served by the server.
func registry(logger *zap.Logger) *action.Registry {
	reg := action.NewRegistry()
	chat.NewService(logger.Named("chat")).
		WithLimits(historySize, roomLimit).
		Register(reg)
	return reg
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	logger, err := setupLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Starting actionsocket server",
		zap.Strings("config_paths", args),
		zap.String("version", Version),
	)

	metrics, tracing, stopMetrics := setupObservability(cfg, logger)
	defer stopMetrics()

	provider, err := registry(logger).Build()
	if err != nil {
		return fmt.Errorf("invalid controllers: %w", err)
	}

	dispatcher, err := cfg.ApplyDispatch(dispatch.NewConfig().
		WithProvider(provider).
		WithLogger(logger.Named("dispatch")).
		WithMetricsProvider(metrics).
		WithTracingProvider(tracing)).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build dispatcher: %w", err)
	}

	ws, err := cfg.ServerConfig(logger.Named("wsserver"), metrics).Build()
	if err != nil {
		return fmt.Errorf("failed to build WebSocket server: %w", err)
	}
	dispatcher.Attach(ws)

	mux := http.NewServeMux()
	mux.Handle(ws.Path(), ws)
	mux.Handle(ws.Path()+"/", ws)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Listening",
			zap.String("listen", cfg.Server.Listen),
			zap.String("path", ws.Path()),
			zap.Strings("namespaces", ws.Namespaces()),
		)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Signal received, shutting down", zap.Duration("grace", cfg.ShutdownGrace))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := ws.Shutdown(shutdownCtx); err != nil {
		logger.Warn("WebSocket shutdown incomplete", zap.Error(err))
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		logger.Warn("Abandoning running actions", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return nil
}

// setupObservability returns the metrics and tracing providers selected by
// the metrics block, and a function stopping them.
func setupObservability(cfg *config.Config, logger *zap.Logger) (o11y.MetricsProvider, o11y.TracingProvider, func()) {
	switch cfg.Metrics.Backend {
	case "memory":
		memory := o11y.NewMemoryProvider()
		memory.StartReporting(cfg.ReportInterval, func(s o11y.Snapshot) {
			logger.Info("Metrics",
				zap.Any("counters", s.Counters),
				zap.Any("gauges", s.Gauges),
			)
		})
		return memory, nil, memory.StopReporting

	case "otel":
		provider := otel.NewProvider(cfg.Metrics.ServiceName, Version)
		return provider, provider, func() {}

	default:
		return nil, nil, func() {}
	}
}
