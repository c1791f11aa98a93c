package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odvcencio/metastore/pkg/diff"
)

func newDiffCmd(a *app) *cobra.Command {
	var summary bool
	cmd := &cobra.Command{
		Use:   "diff <object-id> <from-revision> [to-revision]",
		Short: "Show metadata changes between two revisions",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			to := ""
			if len(args) == 3 {
				to = args[2]
			}
			d, err := diff.Revisions(cmd.Context(), b, args[0], args[1], to)
			if err != nil {
				return err
			}
			if summary {
				fmt.Fprint(cmd.OutOrStdout(), diff.FormatSummary(d))
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), diff.FormatLines(d))
			return nil
		},
	}
	cmd.Flags().BoolVar(&summary, "summary", false, "list changed keys only")
	return cmd
}
