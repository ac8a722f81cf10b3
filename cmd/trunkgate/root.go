package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "trunkgate",
		Short:         "Trunkgate validates trunk changes and gates dependency-bot auto-merge",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	persistent := cmd.PersistentFlags()
	persistent.StringArray("pipeline", nil, "pipeline definition file to include")
	persistent.StringArray("stage", nil, "stage filter (repeatable)")
	persistent.StringArray("only-step", nil, "include only matching steps")
	persistent.StringArray("skip-step", nil, "exclude matching steps")
	persistent.StringArray("package", nil, "package identifier for the validation matrix")
	persistent.String("trunk", "", "trunk branch name")
	persistent.String("bot", "", "recognized dependency-bot author login")
	persistent.String("coverage-url", "", "coverage aggregation service endpoint")
	persistent.String("merge-url", "", "forge API base URL for the merge action")
	persistent.Bool("dry-run", false, "print steps without executing them")
	persistent.BoolP("verbose", "v", false, "stream command output in real time")
	persistent.String("format", "pretty", "output format (pretty|json)")

	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newJournalCmd())

	return cmd
}
