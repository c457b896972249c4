package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/FACorreiaa/ledger-reconciler/cmd/api"
	importservice "github.com/FACorreiaa/ledger-reconciler/internal/domain/import/service"
	"github.com/FACorreiaa/ledger-reconciler/internal/domain/reconcile/dedupe"
	"github.com/FACorreiaa/ledger-reconciler/internal/domain/reconcile/matcher"
)

func newReconcileCommand(opts *globalOptions) *cobra.Command {
	var enhanced bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Match ledger records against bank records and persist the match state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := opts.requireUser()
			if err != nil {
				return err
			}
			return opts.withDependencies(cmd, func(ctx context.Context, deps *api.Dependencies) error {
				run := deps.ReconcileService.Compare
				if enhanced {
					run = deps.ReconcileService.CompareEnhanced
				}
				result, err := run(ctx, userID)
				if err != nil {
					return err
				}
				return renderComparison(cmd.OutOrStdout(), opts.output, result)
			})
		},
	}

	cmd.Flags().BoolVar(&enhanced, "enhanced", false, "merge duplicates first and blend in collaborator verification")
	return cmd
}

func newSeedCommand(opts *globalOptions) *cobra.Command {
	var bankOnly bool

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Replace the user's records with the sample data set and compare it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := opts.requireUser()
			if err != nil {
				return err
			}
			return opts.withDependencies(cmd, func(ctx context.Context, deps *api.Dependencies) error {
				if bankOnly {
					res, err := deps.ReconcileService.SeedSampleBank(ctx, userID)
					if err != nil {
						return err
					}
					if opts.output == "text" {
						return renderUploads(cmd.OutOrStdout(), []statementFile{{name: "sample_statement.csv"}}, []*importservice.UploadResult{res})
					}
					return writeJSON(cmd.OutOrStdout(), res)
				}

				result, err := deps.ReconcileService.SeedSample(ctx, userID)
				if err != nil {
					return err
				}
				return renderComparison(cmd.OutOrStdout(), opts.output, result)
			})
		},
	}

	cmd.Flags().BoolVar(&bankOnly, "bank-only", false, "replace only the bank records with the sample statement")
	return cmd
}

func newDedupeCommand(opts *globalOptions) *cobra.Command {
	var batch string

	cmd := &cobra.Command{
		Use:   "dedupe",
		Short: "Merge duplicate bank records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := opts.requireUser()
			if err != nil {
				return err
			}
			batchID, err := parseBatch(batch)
			if err != nil {
				return err
			}
			return opts.withDependencies(cmd, func(ctx context.Context, deps *api.Dependencies) error {
				result, err := deps.ReconcileService.DetectDuplicates(ctx, userID, batchID)
				if err != nil {
					return err
				}
				if opts.output == "text" {
					return renderDedupe(cmd.OutOrStdout(), result)
				}
				return writeJSON(cmd.OutOrStdout(), result)
			})
		},
	}

	cmd.Flags().StringVar(&batch, "batch", "", "restrict to one upload batch id")
	return cmd
}

func parseBatch(raw string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing --batch: %w", err)
	}
	return &id, nil
}

func renderComparison(w io.Writer, format string, result *matcher.Result) error {
	if format != "text" {
		return writeJSON(w, result)
	}

	s := result.Summary
	fmt.Fprintf(w, "ledger %d, bank %d, matched %d, ledger only %d, bank only %d (%.2f%%)\n",
		s.TotalLedger, s.TotalBank, s.MatchedCount, s.LedgerOnlyCount, s.BankOnlyCount, s.MatchPercentage)
	if s.DuplicatesMerged != nil {
		fmt.Fprintf(w, "duplicates merged: %d\n", *s.DuplicatesMerged)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tCONFIDENCE\tDATE\tAMOUNT\tLEDGER\tBANK")
	for _, m := range result.Matched {
		fmt.Fprintf(tw, "%s\t%.2f\t%s\t%s\t%s\t%s\n", m.Type, m.Confidence,
			m.Bank.Date.Format("2006-01-02"), m.Bank.Amount.StringFixed(2), m.Ledger.MerchantName, m.Bank.Description)
	}
	for _, m := range result.LedgerOnly {
		fmt.Fprintf(tw, "%s\t-\t%s\t%s\t%s\t-\n", m.Type,
			m.Ledger.TransactionDate.Format("2006-01-02"), m.Ledger.Amount.StringFixed(2), m.Ledger.MerchantName)
	}
	for _, m := range result.BankOnly {
		fmt.Fprintf(tw, "%s\t-\t%s\t%s\t-\t%s\n", m.Type,
			m.Bank.Date.Format("2006-01-02"), m.Bank.Amount.StringFixed(2), m.Bank.Description)
	}
	return tw.Flush()
}

func renderDedupe(w io.Writer, result *dedupe.Result) error {
	s := result.Summary
	fmt.Fprintf(w, "records %d, groups %d, merged %d, deleted %d\n",
		s.TotalTransactions, s.DuplicateGroupsFound, s.TransactionsMerged, s.TransactionsDeleted)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tCOUNT\tCONFIDENCE\tMERGED INTO\tREASONING")
	for _, g := range s.GroupsProcessed {
		fmt.Fprintf(tw, "%s\t%d\t%.2f\t%s\t%s\n", g.GroupID, g.TransactionsCount, g.AIConfidence, g.MergedTransactionID, g.AIReasoning)
	}
	return tw.Flush()
}
