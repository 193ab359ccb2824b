// Package cmd implements the command-line interface of the infinity engine.
// It provides a hierarchical command structure with operations for running
// the engine and interacting with it.
//
// The package is organized into several subpackages:
//
//   - serve: Starts the engine (lease, snapshot, journal replay, feed, metrics)
//   - query: Runs a query offline against a data directory
//   - journal: Dumps, summarizes and requeues notice journals
//   - notice: Pushes notices to a serving engine and benchmarks the feed
//   - util: Shared utilities for flags, configuration and argument parsing (internal use)
//
// See infinity -help for a list of all commands.
package cmd
