package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tsarna/actionsocket/pkg/actionsocket/wsclient"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var emitCmd = &cobra.Command{
	Use:   "emit <websocket-url> <event> [data]",
	Short: "Emit an event to an actionsocket server",
	Long: `Emit one event to a namespace of an actionsocket server.

The data argument is sent as JSON when it parses as JSON, otherwise as a
string. With --ack the command waits for the acknowledgment and prints it.
With --wait it also prints the events the server emits back for that long.

Examples:
  actionsocket emit ws://localhost:8080/ws/chat?name=ada join '{"room":"lobby"}' --wait 1s
  actionsocket emit ws://localhost:8080/ws/chat say '{"room":"lobby","text":"hi"}' --ack
  actionsocket emit ws://localhost:8080/ws/chat history lobby --ack`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runEmit,
}

var (
	emitDialTimeout time.Duration
	emitTimeout     time.Duration
	emitAck         bool
	emitWait        time.Duration
)

func init() {
	rootCmd.AddCommand(emitCmd)

	emitCmd.Flags().DurationVar(&emitDialTimeout, "dial-timeout", 10*time.Second, "WebSocket dial timeout")
	emitCmd.Flags().DurationVar(&emitTimeout, "timeout", 30*time.Second, "total operation timeout")
	emitCmd.Flags().BoolVar(&emitAck, "ack", false, "wait for the acknowledgment and print it")
	emitCmd.Flags().DurationVar(&emitWait, "wait", 0, "print events received for this long after emitting")
}

// parseData reads a command line payload as JSON when possible.
func parseData(arg string) any {
	if gjson.Valid(arg) {
		return gjson.Parse(arg).Value()
	}
	return arg
}

func printEvent(event string, data any) {
	out, err := json.Marshal(data)
	if err != nil {
		fmt.Printf("%s\t<error marshaling JSON: %v>\n", event, err)
		return
	}
	fmt.Printf("%s\t%s\n", event, out)
}

func runEmit(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger(zapcore.WarnLevel)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	wsURL, event := args[0], args[1]
	var data any
	if len(args) == 3 {
		data = parseData(args[2])
	}

	ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
	defer cancel()

	client, err := wsclient.NewClient().
		WithURL(wsURL).
		WithLogger(logger).
		WithDialTimeout(emitDialTimeout).
		WithEventHandler(func(ctx context.Context, event string, data any) {
			if emitWait > 0 {
				printEvent(event, data)
			}
		}).
		Build()
	if err != nil {
		return fmt.Errorf("failed to create WebSocket client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to WebSocket server: %w", err)
	}
	defer func() {
		if err := client.Disconnect(); err != nil {
			logger.Warn("Error during client disconnect", zap.Error(err))
		}
	}()

	if emitAck {
		reply, err := client.Call(ctx, event, data)
		if err != nil {
			return fmt.Errorf("failed to emit %s: %w", event, err)
		}
		printEvent("ack", reply)
	} else if err := client.Emit(ctx, event, data); err != nil {
		return fmt.Errorf("failed to emit %s: %w", event, err)
	}

	if emitWait > 0 {
		select {
		case <-time.After(emitWait):
		case <-client.Done():
		case <-ctx.Done():
		}
	}
	return nil
}
