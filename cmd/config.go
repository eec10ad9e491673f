package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/billlvtech/icbu-broker/internal/config"
)

// configCmd prints the effective configuration with secrets masked.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration (secrets masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		masked := cfg.Masked()
		out := cmd.OutOrStdout()
		for _, key := range cfg.MaskedKeys() {
			fmt.Fprintf(out, "%-28s %s\n", key, masked[key])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
