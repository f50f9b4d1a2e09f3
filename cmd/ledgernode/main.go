// Command ledgernode runs a ledgernet peer node and its operator tools.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ledgernode",
		Short: "Publish/broadcast node for the ledgernet peer protocol",
		Long: `ledgernode accepts peer connections over TCP (and optionally
WebSocket), announces the current chain to every new peer and fans
published messages out to all connected peers.

Commands:
  serve    run the node
  probe    connect as a peer and print received frames
  version  print build information`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		probeCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
