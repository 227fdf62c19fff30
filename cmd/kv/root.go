package kv

import (
	"time"

	"github.com/ValentinKolb/dSnap/cmd/util"
	"github.com/ValentinKolb/dSnap/lib/executor"
	"github.com/ValentinKolb/dSnap/lib/kv"
	"github.com/spf13/cobra"
)

var (
	collection *kv.Collection
	exec       *executor.Executor

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:                "kv",
		Short:              "Work with a persisted key-value collection",
		PersistentPreRunE:  openCollection,
		PersistentPostRunE: closeCollection,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add store flags to the KV command
	util.SetupStoreFlags(KeyValueCommands)

	// Add subcommands
	KeyValueCommands.AddCommand(setCmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(hasCmd)
	KeyValueCommands.AddCommand(listCmd)
	KeyValueCommands.AddCommand(dumpCmd)
	KeyValueCommands.AddCommand(perfTestCmd)
}

// openCollection loads the collection named by the configuration
func openCollection(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	conf := util.GetStoreConfig()
	exec = util.NewExecutor(conf)

	var err error
	collection, err = util.OpenCollection(conf, exec)
	if err != nil {
		exec.ShutdownNow()
		return err
	}
	return nil
}

// closeCollection writes pending changes and stops the executor
func closeCollection(_ *cobra.Command, _ []string) error {
	err := collection.Close()

	exec.Shutdown()
	exec.AwaitTermination(5 * time.Second)
	return err
}
