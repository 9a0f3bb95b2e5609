package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/govm-net/mvm/config"
)

var rootCmd = &cobra.Command{
	Use:   "vm-cli",
	Short: "Module VM node and tooling",
	Long: `Module VM node and tooling.
Runs the JSON-RPC node, packs modules, bundles and transactions, applies
them to a local ledger and queries a running node.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().AddFlagSet(config.BuildFlagSet())

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(packCmd)
	rootCmd.AddCommand(bundleCmd)
	rootCmd.AddCommand(txCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(updateStdlibCmd)
	rootCmd.AddCommand(estimateCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(inspectCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
