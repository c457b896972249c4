package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/FACorreiaa/ledger-reconciler/cmd/api"
	importservice "github.com/FACorreiaa/ledger-reconciler/internal/domain/import/service"
)

func newIngestCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <statement.csv>...",
		Short: "Import bank statement files, one upload batch per file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := opts.requireUser()
			if err != nil {
				return err
			}
			files, err := readStatements(args)
			if err != nil {
				return err
			}

			return opts.withDependencies(cmd, func(ctx context.Context, deps *api.Dependencies) error {
				results := make([]*importservice.UploadResult, 0, len(files))
				for _, f := range files {
					res, err := deps.ImportService.Upload(ctx, userID, f.name, f.data)
					if err != nil {
						return fmt.Errorf("ingesting %s: %w", f.name, err)
					}
					results = append(results, res)
				}
				if opts.output == "text" {
					return renderUploads(cmd.OutOrStdout(), files, results)
				}
				return writeJSON(cmd.OutOrStdout(), results)
			})
		},
	}
	return cmd
}

type statementFile struct {
	name string
	data []byte
}

func readStatements(paths []string) ([]statementFile, error) {
	files := make([]statementFile, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading statement: %w", err)
		}
		files = append(files, statementFile{name: filepath.Base(p), data: data})
	}
	return files, nil
}

func renderUploads(w io.Writer, files []statementFile, results []*importservice.UploadResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tBATCH\tTOTAL\tIMPORTED\tFAILED")
	for i, res := range results {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n", files[i].name, res.BatchID, res.Total, res.Succeeded, res.Failed)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for i, res := range results {
		for _, msg := range res.Errors {
			fmt.Fprintf(w, "%s: %s\n", files[i].name, msg)
		}
	}
	return nil
}
