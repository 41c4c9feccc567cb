package cmd

import (
	"os"
	"strings"

	"github.com/ledgersift/txdecoder/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "txdecoder",
	Short: "Decodes EVM transaction receipts into structured history events",
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	initConfig(rootCmd)

	rootCmd.PersistentFlags().Bool(config.Debug, false, `"true" or "false"`)
	rootCmd.PersistentFlags().StringP(config.ChainFlag, "c", "ethereum", `The chain to decode for (ethereum, optimism, gnosis)`)
	rootCmd.PersistentFlags().String(config.TrackedAddresses, "", `Comma separated addresses whose activity is decoded`)
	rootCmd.PersistentFlags().String(config.TokensFile, "", `Path to a JSON file of known token metadata`)
	rootCmd.PersistentFlags().Bool(config.EmitUnknownEvents, false, `Emit an informational event for logs no rule claims`)

	rootCmd.PersistentFlags().String(config.GraphUrl, "", `Subgraph endpoint; empty uses the chain's default`)
	rootCmd.PersistentFlags().String(config.GraphAddressCachePath, "", `Directory for the discovered address cache; empty keeps discoveries in memory only`)

	rootCmd.PersistentFlags().Bool(config.DataDogStatsdEnabled, false, `e.g. "true" or "false"`)
	rootCmd.PersistentFlags().String(config.DataDogStatsdUrl, "", `e.g. "localhost:8125"`)
	rootCmd.PersistentFlags().Float64(config.DataDogStatsdSampleRate, 1.0, `The sample rate to use for statsd metrics`)

	rootCmd.PersistentFlags().Bool(config.PrometheusEnabled, false, `e.g. "true" or "false"`)
	rootCmd.PersistentFlags().Int(config.PrometheusPort, 2112, `The port to run the prometheus server on`)

	// setup sub commands
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(counterpartiesCmd)
	rootCmd.AddCommand(runVersionCmd)

	// bind any subcommand flags
	decodeCmd.PersistentFlags().String(config.DecodeInput, "", `Path to a file of receipts, one JSON object per line; empty reads stdin`)
	decodeCmd.PersistentFlags().Duration(config.DecodeReloadInterval, 0, `How often to reload module data while streaming; 0 disables reloads`)

	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		key := config.KebabToSnakeCase(f.Name)
		viper.BindPFlag(key, f) //nolint:errcheck
		viper.BindEnv(key)      //nolint:errcheck
	})
}

func initConfig(cmd *cobra.Command) {
	viper.SetEnvPrefix(config.ENV_PREFIX)

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	viper.AutomaticEnv()
}
