package cmd

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/tcgscout/tcgscout/internal/observability"
)

func newHistoryCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent search terms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}

			store, err := openHistory(cmd.Context(), cfg.Database, observability.GetLogger())
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), cfg.Server.HistoryLimit)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"ID", "Term", "Searched At", "Results", "Status"})
			for _, e := range entries {
				t.AppendRow(table.Row{e.ID, e.Term, e.SearchedAt.Local().Format("2006-01-02 15:04:05"), e.ResultCount, e.Status})
			}
			t.SetStyle(table.StyleRounded)
			t.Render()
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "number of entries to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the entries as JSON")
	return cmd
}
