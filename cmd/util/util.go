package util

import (
	"strings"
	"time"

	"github.com/ValentinKolb/dSnap/lib/common"
	"github.com/ValentinKolb/dSnap/lib/executor"
	"github.com/ValentinKolb/dSnap/lib/kv"
	"github.com/ValentinKolb/dSnap/lib/persist"
	"github.com/ValentinKolb/dSnap/lib/serializer"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupStoreFlags adds the flags describing a persisted collection to a command
func SetupStoreFlags(cmd *cobra.Command) {
	key := "path"
	cmd.PersistentFlags().String(key, "dsnap.db", WrapString("Base path of the snapshot file. The backup and the compressed variants are derived from it"))

	key = "debounce"
	cmd.PersistentFlags().Duration(key, persist.DefaultDebounce, WrapString("Quiet period after the last change before the snapshot is written"))

	key = "compression"
	cmd.PersistentFlags().Bool(key, true, WrapString("Store the snapshot as a zip archive"))

	key = "serializer"
	cmd.PersistentFlags().String(key, "binary", WrapString("Snapshot encoding (binary, json, gob)"))

	key = "min-workers"
	cmd.PersistentFlags().Int(key, 2, WrapString("Number of warm workers of the one-shot pool"))

	key = "idle-timeout"
	cmd.PersistentFlags().Duration(key, 60*time.Second, WrapString("How long a surplus one-shot worker may idle before it exits"))

	key = "scheduled-workers"
	cmd.PersistentFlags().Int(key, 2, WrapString("Number of workers of the scheduled pool"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dsnap")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// GetStoreConfig reads the store configuration from viper
func GetStoreConfig() *common.StoreConfig {
	return &common.StoreConfig{
		Path:        viper.GetString("path"),
		Debounce:    viper.GetDuration("debounce"),
		Compression: viper.GetBool("compression"),
		Serializer:  viper.GetString("serializer"),
		Executor: common.ExecutorConfig{
			MinWorkers:       viper.GetInt("min-workers"),
			IdleTimeout:      viper.GetDuration("idle-timeout"),
			ScheduledWorkers: viper.GetInt("scheduled-workers"),
		},
		LogLevel: viper.GetString("log-level"),
	}
}

// NewExecutor creates the executor described by the configuration
func NewExecutor(conf *common.StoreConfig) *executor.Executor {
	return executor.New(&executor.Config{
		MinWorkers:       conf.Executor.MinWorkers,
		IdleTimeout:      conf.Executor.IdleTimeout,
		ScheduledWorkers: conf.Executor.ScheduledWorkers,
	})
}

// OpenCollection validates the configuration, initializes the loggers and
// opens the collection on the OS filesystem
func OpenCollection(conf *common.StoreConfig, exec *executor.Executor) (*kv.Collection, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if err := common.InitLoggers(conf.LogLevel); err != nil {
		return nil, err
	}

	s, err := serializer.ByName(conf.Serializer)
	if err != nil {
		return nil, err
	}

	return kv.Open(conf.Path, exec, &kv.Options{
		Options: persist.Options{
			Debounce:    conf.Debounce,
			Compression: conf.Compression,
			Fs:          afero.NewOsFs(),
		},
		Serializer: s,
	})
}
