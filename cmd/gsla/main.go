package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "gsla",
		Short: "Resin printer controller",
		Long: `gsla drives a bottom-up resin printer: it homes the axes, runs print
jobs layer by layer, and reports status over HTTP, SSE, websocket and the
terminal.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.configFile, "config", "", "config file (YAML, TOML or JSON)")
	cmd.Flags().BoolVar(&opts.noStdio, "nostdio", false, "do not read commands from stdin or print status to stdout")
	cmd.Flags().BoolVar(&opts.simulate, "simulate", false, "use the simulated motor controller")
	return cmd
}
