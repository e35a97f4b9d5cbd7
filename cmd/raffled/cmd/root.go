package cmd

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"beaconraffle/internal/config"
)

const (
	flagConfig = "config"
	flagHome   = "home"
	flagEnv    = "env-file"
)

// NewRootCmd creates the raffled root command. It is called once in main.
func NewRootCmd() *cobra.Command {
	v := config.NewViper()

	rootCmd := &cobra.Command{
		Use:           "raffled",
		Short:         "Beacon-seeded raffle daemon",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SetOut(cmd.OutOrStdout())
			cmd.SetErr(cmd.ErrOrStderr())

			envFile, _ := cmd.Flags().GetString(flagEnv)
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			return v.BindPFlag("home", cmd.Flags().Lookup(flagHome))
		},
	}

	rootCmd.PersistentFlags().String(flagConfig, "", "config file (yaml, toml or json)")
	rootCmd.PersistentFlags().String(flagHome, ".raffled", "node home directory (state is stored under <home>/app)")
	rootCmd.PersistentFlags().String(flagEnv, ".env", "dotenv file loaded before reading RAFFLED_* variables")

	rootCmd.AddCommand(
		startCmd(v),
		txCmd(),
		roundCmd(v),
		registryCmd(v),
	)
	return rootCmd
}

func loadConfig(cmd *cobra.Command, v *viper.Viper) (config.Config, error) {
	file, _ := cmd.Flags().GetString(flagConfig)
	return config.Load(v, file)
}

func decodeConfig(cmd *cobra.Command, v *viper.Viper) (config.Config, error) {
	file, _ := cmd.Flags().GetString(flagConfig)
	return config.Decode(v, file)
}
