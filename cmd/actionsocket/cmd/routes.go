package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tsarna/actionsocket/pkg/actionsocket/action"
	"go.uber.org/zap"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "List the actions served by the server",
	Long: `Print every action of every controller: namespace, kind, event and the
events emitted on success and failure.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := registry(zap.NewNop()).Build()
		if err != nil {
			return err
		}
		return printRoutes(os.Stdout, action.Routes(provider))
	},
}

func init() {
	rootCmd.AddCommand(routesCmd)
}

func printRoutes(out io.Writer, routes []action.Route) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAMESPACE\tKIND\tEVENT\tACTION\tON SUCCESS\tON FAIL\tON FAIL FOR")

	dash := func(s string) string {
		if s == "" {
			return "-"
		}
		return s
	}
	for _, r := range routes {
		failFor := dash(r.OnFailFor)
		if r.Matcher != "" {
			failFor += " (" + r.Matcher + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Namespace, r.Kind, dash(r.Event), r.Action, dash(r.OnSuccess), dash(r.OnFail), failFor)
	}
	return w.Flush()
}
