package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/govm-net/mvm/core"
	"github.com/govm-net/mvm/security"
	"github.com/govm-net/mvm/vm"
)

var (
	executeFile   string
	executeOrigin string
	executeMaxGas uint64
	executeValue  uint64
)

var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Execute a transaction against the local ledger",
	Long: `Execute a transaction against the local ledger. --value is moved from the
origin to the module owner when the call succeeds.
Example: vm-cli execute -f buy.tx --origin <account> --value 10`,
	RunE: func(cmd *cobra.Command, args []string) error {
		origin, err := core.AccountFromString(executeOrigin)
		if err != nil {
			return err
		}
		raw, err := os.ReadFile(executeFile)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", executeFile, err)
		}

		n, err := openNode(cmd)
		if err != nil {
			return err
		}
		defer n.Close()

		version := n.ledger.Version()
		r, err := n.vm.Execute(cmd.Context(), security.Signed(origin), raw, executeMaxGas, executeValue)
		return report(cmd, n, version, r, err, []byte(cmd.Name()), origin[:], raw)
	},
}

func init() {
	executeCmd.Flags().StringVarP(&executeFile, "file", "f", "", "Transaction file (required)")
	executeCmd.Flags().StringVar(&executeOrigin, "origin", "", "Signing account (required)")
	executeCmd.Flags().Uint64Var(&executeMaxGas, "max-gas", vm.DefaultMaxGasPerCall, "Gas limit")
	executeCmd.Flags().Uint64Var(&executeValue, "value", 0, "Amount transferred to the module owner")
	_ = executeCmd.MarkFlagRequired("file")
	_ = executeCmd.MarkFlagRequired("origin")
}
