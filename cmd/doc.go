// Package cmd implements the command-line interface of dSnap. It opens a
// persisted key-value collection from a snapshot file and lets you inspect and
// change it, or measure how the debounced persistence behaves under load.
//
// The package is organized into several subpackages:
//
//   - kv: Commands working on a collection (set, get, del, has, list, dump, perf)
//   - config: Prints the effective store configuration as TOML
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set through an environment variable named
// DSNAP_<FLAG> (e.g. DSNAP_DEBOUNCE=250ms). .env and .env.local are read on start.
//
// See dsnap -help for a list of all commands.
package cmd
