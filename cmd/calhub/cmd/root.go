package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "calhub",
	Short: "Real-time calendar subscription hub",
	Long: `calhub keeps connected clients in sync with calendar events from a
local store, Google Calendar and Outlook. Clients subscribe to calendar
ranges over a socket; the hub stores one canonical subscription per
(provider, calendar, user), answers with a snapshot and pushes refreshed
results whenever it re-polls.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/calhub/config.yaml)")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		configDir := filepath.Join(home, ".config", "calhub")
		viper.AddConfigPath(configDir)
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// Environment variables: CALHUB_LISTEN, CALHUB_PROVIDERS_GOOGLE_ENABLED, ...
	viper.SetEnvPrefix("CALHUB")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func setDefaults() {
	viper.SetDefault("listen", ":8080")
	viper.SetDefault("db", "calhub.db")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("allowed_origins", []string{})

	viper.SetDefault("session.ttl", "24h")
	viper.SetDefault("session.mint_key", "")

	viper.SetDefault("poll.enabled", true)
	viper.SetDefault("poll.schedule", "@every 5m")

	viper.SetDefault("providers.local.enabled", true)
	viper.SetDefault("providers.google.enabled", false)
	viper.SetDefault("providers.google.credentials_file", "credentials.json")
	viper.SetDefault("providers.google.token_dir", "tokens/google")
	viper.SetDefault("providers.outlook.enabled", false)
	viper.SetDefault("providers.outlook.client_id", "")
	viper.SetDefault("providers.outlook.tenant_id", "common")
	viper.SetDefault("providers.outlook.token_dir", "tokens/outlook")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
