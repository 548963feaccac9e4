package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var (
	verbose  bool
	debug    bool
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "actionsocket",
	Short: "Declarative WebSocket action server",
	Long: `actionsocket serves controllers of declarative socket actions over
WebSockets. Incoming events are resolved into typed handler parameters,
validated, and the handler results are routed back to the client as
acknowledgments or emitted events.

Configuration is read from HCL files.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "debug output")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level (debug, info, warn, error), overrides the config file")
}

// setupLogger builds the process logger. The --log-level flag wins over
// configured, and --debug or --verbose lower an info level to debug.
func setupLogger(configured zapcore.Level) (*zap.Logger, error) {
	level := configured
	if logLevel != "" {
		parsed, err := zapcore.ParseLevel(strings.ToLower(logLevel))
		if err != nil {
			return nil, fmt.Errorf("invalid --log-level: %w", err)
		}
		level = parsed
	}

	if debug || (verbose && level == zapcore.InfoLevel) {
		level = zapcore.DebugLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	config.Development = debug

	return config.Build()
}

func stringSliceToAnySlice(strs []string) []any {
	anys := make([]any, len(strs))
	for i, s := range strs {
		anys[i] = s
	}
	return anys
}
