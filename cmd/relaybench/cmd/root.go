package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/relaybench/relaybench/internal/common"
	commonconfig "github.com/relaybench/relaybench/internal/common/config"
	"github.com/relaybench/relaybench/internal/common/logging"
	"github.com/relaybench/relaybench/internal/configuration"
)

const (
	CustomConfigLocation string = "config"
)

func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "relaybench",
		SilenceUsage: true,
		Short:        "Generate, relay, collect and analyze benchmark event streams",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlag(CustomConfigLocation, cmd.Flags().Lookup(CustomConfigLocation))
		},
	}

	cmd.PersistentFlags().StringSlice(
		CustomConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")

	cmd.AddCommand(
		relayCmd(),
		collectCmd(),
		generateCmd(),
		runCmd(),
		analyzeCmd(),
		targetsCmd(),
	)

	return cmd
}

func loadConfig() (configuration.Configuration, error) {
	config := configuration.Default()
	userSpecifiedConfigs := viper.GetStringSlice(CustomConfigLocation)

	if err := common.LoadConfig(&config, "./config/relaybench", userSpecifiedConfigs); err != nil {
		return config, err
	}

	err := commonconfig.Validate(config)
	if err != nil {
		commonconfig.LogValidationErrors(err)
		return config, err
	}
	return config, logging.Configure(config.Logging)
}
