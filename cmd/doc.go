// Package cmd implements the command-line interface for the dRPC transport
// client. It provides a hierarchical command structure for calling remote
// services and for running the demo server.
//
// The package is organized into several subpackages:
//
//   - call: Invoke a method on a remote service, with an optional perf mode
//   - serve: Start the demo echo server
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See drpc -help for a list of all commands.
package cmd
