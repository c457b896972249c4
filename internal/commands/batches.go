package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/FACorreiaa/ledger-reconciler/cmd/api"
	"github.com/FACorreiaa/ledger-reconciler/internal/domain/bank/repository"
)

func newBatchesCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "batches",
		Short: "List the user's upload batches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := opts.requireUser()
			if err != nil {
				return err
			}
			return opts.withDependencies(cmd, func(ctx context.Context, deps *api.Dependencies) error {
				batches, err := deps.ImportService.Batches(ctx, userID)
				if err != nil {
					return err
				}
				if opts.output == "text" {
					return renderBatches(cmd.OutOrStdout(), batches)
				}
				return writeJSON(cmd.OutOrStdout(), batches)
			})
		},
	}
}

func renderBatches(w io.Writer, batches []repository.BatchSummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BATCH\tRECORDS\tTOTAL\tFROM\tTO")
	for _, b := range batches {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", b.BatchID, b.Count, b.TotalAmount.StringFixed(2),
			b.StartDate.Format("2006-01-02"), b.EndDate.Format("2006-01-02"))
	}
	return tw.Flush()
}
