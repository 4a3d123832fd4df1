// Command hyperfetchctl is the CLI entrypoint: fetch a single URL, probe a
// candidate set without downloading, or rank tracked mirrors.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "hyperfetchctl",
		Short: "Multi-mirror, chunked, congestion-aware download accelerator",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "hyperfetch.toml", "path to the TOML configuration file")

	root.AddCommand(newFetchCmd(&configPath))
	root.AddCommand(newProbeCmd(&configPath))
	root.AddCommand(newRankCmd(&configPath))
	root.AddCommand(newServeCmd(&configPath))

	return root
}
