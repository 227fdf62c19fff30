package config

import (
	"fmt"
	"os"

	cmdUtil "github.com/ValentinKolb/dSnap/cmd/util"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// ConfigCmd prints the configuration the kv commands would run with
	ConfigCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the effective store configuration",
		Long: `Print the effective store configuration. The configuration can be set via command line flags or environment variables.
The format of the environment variables is DSNAP_<flag> (e.g. DSNAP_DEBOUNCE=250ms)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

// document is the TOML rendering of common.StoreConfig with readable durations
type document struct {
	Path        string `toml:"path"`
	Debounce    string `toml:"debounce"`
	Compression bool   `toml:"compression"`
	Serializer  string `toml:"serializer"`
	LogLevel    string `toml:"log_level"`
	Executor    struct {
		MinWorkers       int    `toml:"min_workers"`
		IdleTimeout      string `toml:"idle_timeout"`
		ScheduledWorkers int    `toml:"scheduled_workers"`
	} `toml:"executor"`
}

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	cmdUtil.SetupStoreFlags(ConfigCmd)

	key := "format"
	ConfigCmd.Flags().String(key, "toml", cmdUtil.WrapString("Output format (toml, text)"))
}

// processConfig binds the flags to viper and validates the result
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}
	return cmdUtil.GetStoreConfig().Validate()
}

func run(_ *cobra.Command, _ []string) error {
	conf := cmdUtil.GetStoreConfig()

	switch format := viper.GetString("format"); format {
	case "text":
		fmt.Println(conf.String())
		return nil
	case "toml":
		doc := document{
			Path:        conf.Path,
			Debounce:    conf.Debounce.String(),
			Compression: conf.Compression,
			Serializer:  conf.Serializer,
			LogLevel:    conf.LogLevel,
		}
		doc.Executor.MinWorkers = conf.Executor.MinWorkers
		doc.Executor.IdleTimeout = conf.Executor.IdleTimeout.String()
		doc.Executor.ScheduledWorkers = conf.Executor.ScheduledWorkers

		enc := toml.NewEncoder(os.Stdout)
		enc.SetIndentTables(true)
		return enc.Encode(doc)
	default:
		return fmt.Errorf("unknown format %q (expected toml or text)", format)
	}
}
