// -- cmd/run.go --
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/browserpilot/internal/actions"
	"github.com/xkilldash9x/browserpilot/internal/observability"
	"github.com/xkilldash9x/browserpilot/internal/runner"
)

var runJSONOut bool

var runCmd = &cobra.Command{
	Use:   "run <actions.json>",
	Short: "Execute a JSON action sequence against a fresh browser instance.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading action file: %w", err)
		}
		acts, err := runner.Parse(data)
		if err != nil {
			return err
		}

		logger := observability.GetLogger()
		return withBrowser(cmd.Context(), func(ctx context.Context, exec *actions.Executor) error {
			outcomes := runner.New(exec, logger).Execute(ctx, acts)

			if runJSONOut {
				enc, err := jsonIndent(outcomes)
				if err != nil {
					return err
				}
				fmt.Println(enc)
				return nil
			}

			failed := 0
			for i, out := range outcomes {
				status := "ok"
				if !out.OK {
					status = "FAILED: " + out.Error
					failed++
				}
				fmt.Printf("%2d  %-16s %-40s %s\n", i+1, out.Action, out.Detail, status)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d actions failed", failed, len(outcomes))
			}
			return nil
		})
	},
}

func init() {
	runCmd.Flags().BoolVar(&runJSONOut, "json", false, "print outcomes as JSON")
	rootCmd.AddCommand(runCmd)
}
