package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edgard/relaybot/internal/config"
	"github.com/edgard/relaybot/internal/dispatch"
)

type dispatchOptions struct {
	runOnce  bool
	force    bool
	testMode bool
}

func newDispatchCmd(opts *rootOptions) *cobra.Command {
	dopts := &dispatchOptions{}

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Run the daily link dispatch without the web form",
		Long: `Run only the scheduled daily dispatch.

With --run-once the digest is sent immediately and the command exits; the
same-day guard still applies unless --force is given. With --test-mode the
dispatch fires once shortly after start instead of at the daily time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dopts.force && !dopts.runOnce {
				return fmt.Errorf("--force requires --run-once")
			}

			a, log, err := opts.setup(cmd.Context(), func(cfg *config.Config) {
				if dopts.testMode {
					cfg.Dispatch.TestMode = true
				}
			})
			if err != nil {
				return err
			}
			defer a.Close()

			if !dopts.runOnce {
				log.Info("Starting dispatch scheduler")
				return a.RunScheduler(cmd.Context())
			}

			result := a.DispatchNow(cmd.Context(), dopts.force)
			log.Info("One-off dispatch finished", "result", result, "forced", dopts.force)
			fmt.Fprintln(cmd.OutOrStdout(), result)
			if result == dispatch.ResultFailed {
				return fmt.Errorf("dispatch failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dopts.runOnce, "run-once", false, "Send the digest now and exit")
	cmd.Flags().BoolVar(&dopts.force, "force", false, "With --run-once, send even if today's digest was already sent")
	cmd.Flags().BoolVar(&dopts.testMode, "test-mode", false, "Fire the dispatch once after the configured test delay")
	return cmd
}
