package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"person-vectors/internal/app"
	"person-vectors/internal/person"
	"person-vectors/internal/store"
)

// importCmd seeds the local SQLite person table. Postgres deployments own
// their person table and are loaded outside this tool.
func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <people.json|->",
		Short: "Load people from a JSON array into the local SQLite store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			people, err := readPeople(cmd, args[0])
			if err != nil {
				return err
			}

			deps, err := build(cmd, app.Needs{})
			if err != nil {
				return err
			}
			defer deps.Close()

			local, ok := deps.Store.(*store.SQLiteStore)
			if !ok {
				return errors.New("import requires STORE_PROVIDER=sqlite")
			}
			if err := local.InsertEntities(cmd.Context(), people); err != nil {
				return fmt.Errorf("import: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d people.\n", len(people))
			return nil
		},
	}
}

func readPeople(cmd *cobra.Command, path string) ([]person.Entity, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var people []person.Entity
	if err := json.NewDecoder(r).Decode(&people); err != nil {
		return nil, fmt.Errorf("decode people: %w", err)
	}
	for _, p := range people {
		if p.ID <= 0 {
			return nil, fmt.Errorf("person_id must be positive, got %d", p.ID)
		}
	}
	return people, nil
}

func removeCmd() *cobra.Command {
	var ids []int64

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Delete the stored vectors of some people",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(ids) == 0 {
				return errors.New("--ids is required")
			}
			deps, err := build(cmd, app.Needs{})
			if err != nil {
				return err
			}
			defer deps.Close()

			if err := deps.Store.DeleteVectors(cmd.Context(), ids); err != nil {
				return fmt.Errorf("remove: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed vectors of %d people.\n", len(ids))
			return nil
		},
	}

	cmd.Flags().Int64SliceVar(&ids, "ids", nil, "Person ids to remove")

	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the number of stored vectors per attribute",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := build(cmd, app.Needs{})
			if err != nil {
				return err
			}
			defer deps.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "Attribute\tVectors")
			for _, a := range deps.Attributes.Attributes() {
				n, err := deps.Store.CountVectors(cmd.Context(), a)
				if err != nil {
					return fmt.Errorf("stats: %w", err)
				}
				fmt.Fprintf(tw, "%s\t%d\n", a, n)
			}
			return tw.Flush()
		},
	}
}

func purgeCacheCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-cache",
		Short: "Drop cached embeddings of the configured model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := build(cmd, app.Needs{Embedder: true})
			if err != nil {
				return err
			}
			defer deps.Close()

			model := deps.Embedder.Model()
			if err := deps.Cache.Purge(cmd.Context(), model); err != nil {
				return fmt.Errorf("purge cache: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged cached embeddings for %s.\n", model)
			return nil
		},
	}
}
