package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCmd(opts *rootOptions) *cobra.Command {
	var extended bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "relaybot %s\n", opts.build.Version)
			if extended {
				fmt.Fprintf(out, "Commit: %s\n", opts.build.Commit)
				fmt.Fprintf(out, "Built: %s\n", opts.build.BuildDate)
				fmt.Fprintf(out, "Go: %s\n", runtime.Version())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&extended, "extended", false, "Include commit, build date and Go version")
	return cmd
}
