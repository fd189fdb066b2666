package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Zereker/astyled/internal/config"
)

// configCmd prints the effective configuration
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as TOML",
	Long: `Print the configuration the server would run with. Without --config the
built-in defaults are printed, which makes a good starting file:

  astyled config > astyled.toml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return cfg.Encode(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}

// loadConfig reads --config when given, otherwise returns the defaults.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
