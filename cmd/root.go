package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "custos",
	Short: "Custos - Backup Engine Web Console",
	Long: `Custos is a single-binary web console that supervises an external
file-based backup engine: it starts and cancels backup and restore jobs,
schedules recurring runs by cron expression, and streams live status to
connected browsers.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./custos.toml)")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config file in standard locations
		viper.SetConfigName("custos")
		viper.SetConfigType("toml")

		// Current directory (highest priority)
		viper.AddConfigPath(".")

		// User config directory
		if userConfigDir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(userConfigDir + "/custos")
		}

		// System-wide config directories
		viper.AddConfigPath("/etc/custos")
		viper.AddConfigPath("/usr/local/etc/custos")
	}

	viper.SetEnvPrefix("custos")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
