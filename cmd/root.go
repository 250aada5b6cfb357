package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dRPC/cmd/call"
	"github.com/ValentinKolb/dRPC/cmd/serve"
	"github.com/ValentinKolb/dRPC/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "1.0.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "drpc",
		Short: "resilient RPC transport client",
		Long: fmt.Sprintf(`dRPC (v%s)

The transport core of an RPC client: one resilient TCP connection per
socket worker with automatic reconnection and heartbeat liveness,
plus a demo server for testing.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dRPC",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dRPC v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(call.CallCmd)
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (json, gob, binary)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
