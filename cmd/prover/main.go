package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/config"
	"github.com/Layr-Labs/hourglass-monorepo/ponos-prover/pkg/prover/proverConfig"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "prover",
	Short: "Shard proof workloads across accelerator devices",
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

var configFile string
var Config *proverConfig.ProverConfig

func init() {
	cobra.OnInitialize(initConfigIfPresent)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml or json)")

	initConfig(rootCmd)

	rootCmd.PersistentFlags().Bool(proverConfig.Debug, false, `"true" or "false"`)
	rootCmd.PersistentFlags().Int(proverConfig.MetricsPort, 0, "port to serve prometheus metrics on, 0 to disable")
	rootCmd.PersistentFlags().String(proverConfig.Preset, proverConfig.Preset_Default, "capacity preset used when the config has no capacity section")
	rootCmd.PersistentFlags().Int(proverConfig.DeviceCount, 0, "override the preset device count")
	rootCmd.PersistentFlags().String(proverConfig.StorageDir, "", "persist checkpoints with badger in this directory")

	// setup sub commands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(calibrateCmd)

	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		key := config.KebabToSnakeCase(f.Name)
		viper.BindPFlag(key, f) //nolint:errcheck
		viper.BindEnv(key)      //nolint:errcheck
	})
}

func initConfig(cmd *cobra.Command) {
	viper.SetEnvPrefix(proverConfig.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func initConfigIfPresent() {
	if configFile == "" {
		Config = proverConfig.NewProverConfig()
		return
	}

	fmt.Printf("Using config file: %s\n", configFile)
	data, err := os.ReadFile(configFile)
	if err != nil {
		panic(err)
	}
	if strings.EqualFold(filepath.Ext(configFile), ".json") {
		Config, err = proverConfig.NewProverConfigFromJsonBytes(data)
	} else {
		Config, err = proverConfig.NewProverConfigFromYamlBytes(data)
	}
	if err != nil {
		panic(err)
	}
	if Config == nil {
		Config = &proverConfig.ProverConfig{}
	}
	Config.Debug = Config.Debug || viper.GetBool(config.NormalizeFlagName(proverConfig.Debug))
}

func main() {
	Execute()
}
