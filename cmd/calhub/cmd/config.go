package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the hub configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigInit()
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
}

// starterConfig is the annotated default written by config init. Kept as an
// ordered struct so the file comes out in a readable order.
type starterConfig struct {
	Listen         string   `yaml:"listen"`
	DB             string   `yaml:"db"`
	LogLevel       string   `yaml:"log_level"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	Session        struct {
		TTL     string `yaml:"ttl"`
		MintKey string `yaml:"mint_key"`
	} `yaml:"session"`
	Poll struct {
		Enabled  bool   `yaml:"enabled"`
		Schedule string `yaml:"schedule"`
	} `yaml:"poll"`
	Providers struct {
		Local struct {
			Enabled bool `yaml:"enabled"`
		} `yaml:"local"`
		Google struct {
			Enabled         bool   `yaml:"enabled"`
			CredentialsFile string `yaml:"credentials_file"`
			TokenDir        string `yaml:"token_dir"`
		} `yaml:"google"`
		Outlook struct {
			Enabled  bool   `yaml:"enabled"`
			ClientID string `yaml:"client_id"`
			TenantID string `yaml:"tenant_id"`
			TokenDir string `yaml:"token_dir"`
		} `yaml:"outlook"`
	} `yaml:"providers"`
}

func runConfigInit() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	configDir := filepath.Join(home, ".config", "calhub")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists at %s", configPath)
	}

	var c starterConfig
	c.Listen = ":8080"
	c.DB = "calhub.db"
	c.LogLevel = "info"
	c.AllowedOrigins = []string{}
	c.Session.TTL = "24h"
	c.Session.MintKey = ""
	c.Poll.Enabled = true
	c.Poll.Schedule = "@every 5m"
	c.Providers.Local.Enabled = true
	c.Providers.Google.Enabled = false
	c.Providers.Google.CredentialsFile = "credentials.json"
	c.Providers.Google.TokenDir = "tokens/google"
	c.Providers.Outlook.Enabled = false
	c.Providers.Outlook.ClientID = ""
	c.Providers.Outlook.TenantID = "common"
	c.Providers.Outlook.TokenDir = "tokens/outlook"

	out, err := yaml.Marshal(&c)
	if err != nil {
		return err
	}
	if err := os.WriteFile(configPath, out, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Println("Config written to", configPath)
	return nil
}
