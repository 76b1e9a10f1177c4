package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"texcache/internal/preflight"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	var skipListen bool

	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Check directories, listen addresses and the asset base",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg, skipListen)

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("Preflight", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, r := range results {
				kind := statusOK
				if !r.Passed {
					kind = statusError
				}
				fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("preflight: %d of %d checks failed", len(failed), len(results))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipListen, "skip-listen", false, "Skip listen address checks (useful while texcached is running)")
	return cmd
}
