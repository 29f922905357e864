package cmd

import (
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the web form and run the daily dispatch scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, log, err := opts.setup(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			log.Info("Starting relaybot")
			return a.Serve(cmd.Context())
		},
	}
}
