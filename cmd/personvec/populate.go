package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"person-vectors/internal/app"
)

func populateCmd() *cobra.Command {
	var (
		batchSize int
		ids       []int64
	)

	cmd := &cobra.Command{
		Use:   "populate",
		Short: "Encode people and store their attribute vectors",
		Long: `Encode every allow-listed attribute of each person and upsert the vectors.

Without --ids the whole person table is indexed. Re-running is safe: existing
vectors for the same person and attribute are replaced.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := build(cmd, app.Needs{Embedder: true})
			if err != nil {
				return err
			}
			defer deps.Close()

			if batchSize == 0 {
				batchSize = deps.Config.BatchSize
			}

			var n int
			if len(ids) > 0 {
				n, err = deps.Writer.PopulateIDs(cmd.Context(), ids, batchSize)
			} else {
				n, err = deps.Writer.PopulateAll(cmd.Context(), batchSize)
			}
			if err != nil {
				return fmt.Errorf("populate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %d vectors.\n", n)
			return nil
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Records per transaction (default BATCH_SIZE)")
	cmd.Flags().Int64SliceVar(&ids, "ids", nil, "Only index these person ids")

	return cmd
}
