package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Executor configuration struct
// --------------------------------------------------------------------------

// ExecutorConfig holds the sizing of the two worker pools
type ExecutorConfig struct {
	// MinWorkers is the number of warm goroutines of the one-shot pool
	MinWorkers int `toml:"min_workers"`
	// IdleTimeout is how long a surplus one-shot worker may idle before it exits
	IdleTimeout time.Duration `toml:"idle_timeout"`
	// ScheduledWorkers is the fixed size of the scheduled pool
	ScheduledWorkers int `toml:"scheduled_workers"`
}

// --------------------------------------------------------------------------
// Store configuration struct
// --------------------------------------------------------------------------

// StoreConfig holds all configuration parameters of a persisted collection.
type StoreConfig struct {
	// Path is the base path of the snapshot, all other artifacts are derived from it
	Path string `toml:"path"`

	// persistence parameters
	Debounce    time.Duration `toml:"debounce"`
	Compression bool          `toml:"compression"`
	Serializer  string        `toml:"serializer"`

	// Executor sizing
	Executor ExecutorConfig `toml:"executor"`

	// Logging configuration
	LogLevel string `toml:"log_level"`
}

// Validate checks the configuration for values the store would reject later
func (c *StoreConfig) Validate() error {
	if strings.TrimSpace(c.Path) == "" {
		return fmt.Errorf("path must not be empty")
	}
	if c.Debounce < 0 {
		return fmt.Errorf("debounce must not be negative (got %s)", c.Debounce)
	}
	if c.Executor.MinWorkers < 0 {
		return fmt.Errorf("min workers must not be negative (got %d)", c.Executor.MinWorkers)
	}
	if c.Executor.ScheduledWorkers < 1 {
		return fmt.Errorf("scheduled workers must be at least 1 (got %d)", c.Executor.ScheduledWorkers)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *StoreConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// Storage
	addSection("Storage")
	addField("Path", c.Path)
	addField("Serializer", c.Serializer)
	addField("Compression", strconv.FormatBool(c.Compression))
	addField("Debounce", c.Debounce.String())

	// Executor
	addSection("Executor")
	addField("Min Workers", strconv.Itoa(c.Executor.MinWorkers))
	addField("Idle Timeout", c.Executor.IdleTimeout.String())
	addField("Scheduled Workers", strconv.Itoa(c.Executor.ScheduledWorkers))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
