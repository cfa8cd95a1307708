// Command personvec populates and queries the person vector index from a
// terminal. Configuration comes from the environment and an optional .env
// file, the same way the services load it; logs go to stderr so command
// output stays clean.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"person-vectors/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "personvec",
		Short:         "Person embedding index",
		Long:          `personvec encodes person name attributes into vectors and ranks people by cosine similarity to a query.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(populateCmd())
	cmd.AddCommand(searchCmd())
	cmd.AddCommand(importCmd())
	cmd.AddCommand(removeCmd())
	cmd.AddCommand(statsCmd())
	cmd.AddCommand(purgeCacheCmd())

	return cmd
}

// build wires the shared components with logs written to the command's
// error stream.
func build(cmd *cobra.Command, needs app.Needs) (app.Deps, error) {
	needs.LogTo = cmd.ErrOrStderr()
	return app.Build(cmd.Context(), needs)
}
