package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the parsing service is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			client := newClient(cfg, stderrLogger(cfg))

			h, err := client.Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("parsing service at %s: %w", client.BaseURL(), err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s: %s\n", h.Service, h.Version, h.Status)
			if h.ParserModule != "" {
				fmt.Fprintf(out, "  parser module: %s\n", h.ParserModule)
			}
			return nil
		},
	}
}

func newBanksCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "banks",
		Short: "List the banks the parsing service supports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			banks, err := newClient(cfg, stderrLogger(cfg)).Banks(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, b := range banks {
				fmt.Fprintf(out, "%-10s %-20s %s\n", b.ID, b.Name, b.Status)
			}
			return nil
		},
	}
}
