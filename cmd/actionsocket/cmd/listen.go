package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tsarna/actionsocket/pkg/actionsocket/wsclient"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var listenCmd = &cobra.Command{
	Use:   "listen <websocket-url> [event data]...",
	Short: "Print the events an actionsocket server emits",
	Long: `Connect to a namespace of an actionsocket server and print every event it
emits to stdout, one per line, until interrupted. Pairs of event and data
arguments are emitted after connecting.

Examples:
  actionsocket listen ws://localhost:8080/ws/chat?name=ada
  actionsocket listen ws://localhost:8080/ws/chat?name=ada join '{"room":"lobby"}'`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) < 1 || len(args)%2 != 1 {
			return fmt.Errorf("expected a URL followed by event and data pairs")
		}
		return nil
	},
	RunE: runListen,
}

var listenDialTimeout time.Duration

func init() {
	rootCmd.AddCommand(listenCmd)

	listenCmd.Flags().DurationVar(&listenDialTimeout, "dial-timeout", 10*time.Second, "WebSocket dial timeout")
}

func runListen(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger(zapcore.InfoLevel)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wsURL := args[0]
	client, err := wsclient.NewClient().
		WithURL(wsURL).
		WithLogger(logger).
		WithDialTimeout(listenDialTimeout).
		WithEventHandler(func(ctx context.Context, event string, data any) {
			printEvent(event, data)
		}).
		Build()
	if err != nil {
		return fmt.Errorf("failed to create WebSocket client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to WebSocket server: %w", err)
	}

	for i := 1; i < len(args); i += 2 {
		if err := client.Emit(ctx, args[i], parseData(args[i+1])); err != nil {
			logger.Error("Failed to emit", zap.String("event", args[i]), zap.Error(err))
		}
	}

	logger.Info("Listening for events... (Press Ctrl+C to exit)", zap.String("url", wsURL))

	select {
	case <-ctx.Done():
		logger.Debug("Signal received, exiting")
	case <-client.Done():
		logger.Info("Server closed the connection")
	}

	if err := client.Disconnect(); err != nil {
		logger.Warn("Error during client disconnect", zap.Error(err))
	}
	return nil
}
