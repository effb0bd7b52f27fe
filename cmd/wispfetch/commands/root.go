package commands

import (
	"context"
	"fmt"
	"os"
	"wispfetch/internal/config"

	"github.com/spf13/cobra"
)

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultFile, "The config file, <name>.local.json5 next to it is merged on top.")
}

var rootCmd = &cobra.Command{
	Use:   "wispfetch",
	Short: "wispfetch downloads the invoice and transaction PDFs of a MikroWISP billing portal.",
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
