package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tcgscout/tcgscout/api/schemas"
	"github.com/tcgscout/tcgscout/internal/config"
	"github.com/tcgscout/tcgscout/internal/observability"
	"github.com/tcgscout/tcgscout/internal/scraper"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newSearchCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "search <card name>",
		Short: "Log in and print the listings for a card",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if !cfg.Credentials.Present() {
				return errNoCredentials
			}
			ctx := cmd.Context()
			logger := observability.GetLogger()
			term := strings.TrimSpace(strings.Join(args, " "))

			result, err := runSearch(ctx, cfg, logger, term)
			recordSearch(ctx, cfg, logger, term, result, err)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			renderListings(cmd.OutOrStdout(), result)
			return nil
		},
	}

	cmd.Flags().Int("max", 10, "maximum number of listings to return")
	cmd.Flags().Bool("headless", true, "run the browser without a window")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func runSearch(ctx context.Context, cfg *config.Config, logger *zap.Logger, term string) (*schemas.SearchResult, error) {
	sc, err := launchSearcher(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := sc.Close(); err != nil {
			logger.Warn("Failed to close browser.", zap.Error(err))
		}
	}()

	if _, err := sc.Login(ctx); err != nil {
		return nil, err
	}
	return sc.SearchAndScrape(ctx, term, cfg.Scraper.MaxResults)
}

// recordSearch appends the term to the history log. Failures are only logged.
func recordSearch(ctx context.Context, cfg *config.Config, logger *zap.Logger, term string, result *schemas.SearchResult, searchErr error) {
	store, err := openHistory(context.WithoutCancel(ctx), cfg.Database, logger)
	if err != nil {
		logger.Warn("Could not open search history.", zap.Error(err))
		return
	}
	defer store.Close()

	entry := schemas.HistoryEntry{Term: term, Status: scraper.StatusOf(result, searchErr)}
	if result != nil {
		entry.ResultCount = len(result.Listings)
	}
	if _, err := store.Record(context.WithoutCancel(ctx), entry); err != nil {
		logger.Warn("Could not record search history.", zap.Error(err))
	}
}

func renderListings(w io.Writer, result *schemas.SearchResult) {
	if result.Empty() {
		fmt.Fprintf(w, "No listings found for %q.\n", result.Query)
		return
	}
	if result.ExtractionFailed() {
		fmt.Fprintf(w, "Found %d results for %q but none could be read. The page layout may have changed.\n", result.Found, result.Query)
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"#", "Name", "Price", "Image"})
	for i, l := range result.Listings {
		t.AppendRow(table.Row{i + 1, l.Name, l.Price, l.ImageURL})
	}
	footer := fmt.Sprintf("%d of %d found", len(result.Listings), result.Found)
	if n := len(result.Skipped); n > 0 {
		footer += fmt.Sprintf(", %d skipped", n)
	}
	t.AppendFooter(table.Row{"", footer, "", ""})
	t.SetStyle(table.StyleRounded)
	t.Render()
}
