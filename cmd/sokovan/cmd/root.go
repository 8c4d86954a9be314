package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lablup/sokovan/internal/common"
	"github.com/lablup/sokovan/internal/sokovan/configuration"
)

const (
	CustomConfigLocation string = "config"
)

func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "sokovan",
		SilenceUsage: true,
		Short:        "Resource-aware session scheduler",
	}

	cmd.PersistentFlags().String(
		CustomConfigLocation,
		"",
		"Fully qualified path to application configuration file")
	_ = viper.BindPFlag(CustomConfigLocation, cmd.PersistentFlags().Lookup(CustomConfigLocation))

	cmd.AddCommand(
		runCmd(),
		migrateDbCmd(),
	)

	return cmd
}

func loadConfig() configuration.SokovanConfig {
	var config configuration.SokovanConfig
	userSpecifiedConfig := viper.GetString(CustomConfigLocation)
	common.LoadConfig(&config, "./config/sokovan", userSpecifiedConfig)
	return config
}
