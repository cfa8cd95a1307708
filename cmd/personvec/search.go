package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"person-vectors/internal/app"
	"person-vectors/internal/person"
	"person-vectors/internal/search"
	"person-vectors/internal/store"
)

const quitWord = "QUIT"

type searcher interface {
	Search(ctx context.Context, query, attribute string, topK int) ([]store.ScoredEntity, error)
}

func searchCmd() *cobra.Command {
	var (
		attribute string
		topK      int
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Rank people by similarity to a query",
		Long: `Encode the query and list the people whose attribute vector is closest to it.

With no query argument the command prompts for a name and an attribute until
QUIT is entered.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := build(cmd, app.Needs{Embedder: true})
			if err != nil {
				return err
			}
			defer deps.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				if attribute == "" {
					return errors.New("--attribute is required with a query argument")
				}
				return runSearch(cmd.Context(), deps.Engine, out, args[0], attribute, topK)
			}
			return interactive(cmd.Context(), deps.Engine, cmd.InOrStdin(), out, attribute, topK)
		},
	}

	cmd.Flags().StringVarP(&attribute, "attribute", "a", "", "Attribute to search, e.g. FullName or FullNameVector")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of results (default SEARCH_TOP_K)")

	return cmd
}

func runSearch(ctx context.Context, s searcher, out io.Writer, query, attribute string, topK int) error {
	results, err := s.Search(ctx, query, attribute, topK)
	if err != nil {
		return err
	}
	return printResults(out, results)
}

// interactive keeps prompting until QUIT or end of input. Bad attributes and
// result sizes are reported and the loop continues; other failures stop it.
func interactive(ctx context.Context, s searcher, in io.Reader, out io.Writer, attribute string, topK int) error {
	sc := bufio.NewScanner(in)
	prompt := func(msg string) (string, bool) {
		fmt.Fprint(out, msg)
		if !sc.Scan() {
			return "", false
		}
		text := strings.TrimSpace(sc.Text())
		if strings.EqualFold(text, quitWord) {
			return "", false
		}
		return text, true
	}

	for {
		query, ok := prompt("Enter the name to search (or QUIT to exit): ")
		if !ok {
			break
		}
		attr := attribute
		if attr == "" {
			if attr, ok = prompt("Enter the attribute to search in (e.g. FullName), or QUIT to exit: "); !ok {
				break
			}
		}

		fmt.Fprintf(out, "Searching for '%s' in '%s' ...\n", query, attr)
		err := runSearch(ctx, s, out, query, attr, topK)
		var unknown *person.UnknownAttributeError
		switch {
		case err == nil:
		case errors.As(err, &unknown), errors.Is(err, search.ErrInvalidTopK):
			fmt.Fprintf(out, "Error: %v\n\n", err)
		default:
			return err
		}
	}
	fmt.Fprintln(out)
	return sc.Err()
}

func printResults(out io.Writer, results []store.ScoredEntity) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(out, "No matching results found.")
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tPersonID\tFirstName\tMiddleName\tLastName\tSuffix\tPreferredName\tFullName\tBirthDate\tSimilarity\tDistance")
	for i, r := range results {
		e := r.Entity
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%.4f\t%.4f\n",
			i+1, e.ID, e.FirstName, e.MiddleName, e.LastName, e.Suffix, e.PreferredName, e.FullName, e.BirthDate,
			r.Similarity, r.Distance)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintln(out)
	return err
}
