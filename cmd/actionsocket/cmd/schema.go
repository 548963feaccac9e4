package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/tsarna/actionsocket/pkg/actionsocket/action"
	"github.com/tsarna/actionsocket/pkg/actionsocket/coerce"
	"go.uber.org/zap"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON Schema of every shaped parameter",
	Long: `Print, as one JSON object keyed by "namespace event", the JSON Schema
payloads of shaped parameters are validated against.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := registry(zap.NewNop()).Build()
		if err != nil {
			return err
		}
		return printSchemas(os.Stdout, provider)
	},
}

var strictSchemas bool

func init() {
	rootCmd.AddCommand(schemaCmd)

	schemaCmd.Flags().BoolVar(&strictSchemas, "strict", false, "reject undeclared properties and require every field without omitempty")
}

func printSchemas(out io.Writer, provider action.Provider) error {
	opts := coerce.ValidateOptions{DisallowAdditionalProperties: strictSchemas, RequireAllFields: strictSchemas}
	schemas := make(map[string]any)

	for _, ctrl := range provider.Controllers() {
		for _, a := range ctrl.Actions {
			for _, p := range a.Parameters {
				if p.Type != coerce.TypeShape || p.Shape == nil {
					continue
				}
				key := fmt.Sprintf("%s %s", action.NormalizeNamespace(ctrl.Namespace), a.Name)
				if len(a.Parameters) > 1 {
					key = fmt.Sprintf("%s#%d", key, p.Index)
				}
				schemas[key] = coerce.Schema(p.Shape, opts)
			}
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(schemas)
}
