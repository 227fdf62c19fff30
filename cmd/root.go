package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dSnap/cmd/config"
	"github.com/ValentinKolb/dSnap/cmd/kv"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dsnap",
		Short: "debounced snapshot persistence",
		Long: fmt.Sprintf(`dSnap (v%s)

Keeps an in-memory collection durable by writing debounced,
crash-safe snapshots of it to a single file.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dSnap",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dSnap v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(config.ConfigCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
