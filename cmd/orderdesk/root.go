package main

import (
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:          "orderdesk",
	Short:        "Daily order numbers with scannable QR codes",
	Long:         "orderdesk issues gapless per-day order numbers and renders each one as a QR code image.",
	Version:      Version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with ORDERDESK_* overrides (ignored if missing)")
}
