package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petal-labs/arbor/cli"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "arbor",
	Short: "Arbor event runtime CLI",
	Long:  "Arbor — a CLI for exercising the event-driven component runtime.",
	// SilenceUsage prevents printing usage on every error
	SilenceUsage: true,
}

func init() {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("arbor version %s\n", version))

	rootCmd.AddCommand(cli.NewDemoCmd())
	rootCmd.AddCommand(cli.NewKVCmd())
}
