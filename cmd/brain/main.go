//go:build !test

// Command brain provisions system disks, boot entries and virtual NICs for
// bare-metal hosts fronted by device gateways.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "brain",
		Short:         "Bare-metal system disk provisioning service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "~/brain/config.yaml", "path to the YAML config file")

	root.AddCommand(
		newServeCommand(&configPath),
		newMigrateCommand(&configPath),
	)
	return root
}
