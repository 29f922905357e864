package cmd

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/edgard/relaybot/internal/database"
)

func newDeliveriesCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "deliveries",
		Short: "Show the most recent deliveries from the log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, _, err := opts.setup(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			rows, err := a.RecentDeliveries(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to read delivery log: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderDeliveries(rows))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of rows to show (max 500)")
	return cmd
}

func renderDeliveries(rows []database.Delivery) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "Time", "Kind", "Source", "Outcome", "Attempts"})
	for _, d := range rows {
		source := d.Source
		if source == "" {
			source = "-"
		}
		t.AppendRow(table.Row{
			d.ID,
			d.CreatedAt.UTC().Format("2006-01-02 15:04:05Z"),
			d.Kind,
			source,
			d.Outcome,
			strconv.Itoa(d.Attempts),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "Total", len(rows)})
	return t.Render()
}
