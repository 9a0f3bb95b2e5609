package main

import (
	"fmt"
	"os"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/spf13/cobra"

	"github.com/govm-net/mvm/core"
	"github.com/govm-net/mvm/security"
	"github.com/govm-net/mvm/vm"
)

var (
	publishFile   string
	publishSender string
	publishBundle bool
	publishMaxGas uint64

	stdlibFile string
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a module or bundle to the local ledger",
	Long: `Publish a module package, or a bundle with --bundle, to the local ledger.
Example: vm-cli publish -f carwash.mod --sender <account> --store.path /data/mvm`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, err := core.AccountFromString(publishSender)
		if err != nil {
			return err
		}
		raw, err := os.ReadFile(publishFile)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", publishFile, err)
		}

		n, err := openNode(cmd)
		if err != nil {
			return err
		}
		defer n.Close()

		origin := security.Signed(sender)
		version := n.ledger.Version()
		var r *vm.Receipt
		if publishBundle {
			r, err = n.vm.PublishModuleBundle(cmd.Context(), origin, raw, publishMaxGas)
		} else {
			r, err = n.vm.PublishModule(cmd.Context(), origin, raw, publishMaxGas)
		}
		return report(cmd, n, version, r, err, []byte(cmd.Name()), sender[:], raw)
	},
}

var updateStdlibCmd = &cobra.Command{
	Use:   "update-stdlib",
	Short: "Replace the stdlib bundle of the local ledger",
	Long: `Replace the stdlib bundle of the local ledger. The upgrade runs with the
root origin and is rejected when it breaks a module that depends on it.
Example: vm-cli update-stdlib -f stdlib.mvb --store.path /data/mvm`,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(stdlibFile)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", stdlibFile, err)
		}

		n, err := openNode(cmd)
		if err != nil {
			return err
		}
		defer n.Close()

		version := n.ledger.Version()
		r, err := n.vm.UpdateStdlibBundle(cmd.Context(), security.Root(), raw)
		return report(cmd, n, version, r, err, []byte(cmd.Name()), raw)
	},
}

func init() {
	publishCmd.Flags().StringVarP(&publishFile, "file", "f", "", "Module package or bundle (required)")
	publishCmd.Flags().StringVar(&publishSender, "sender", "", "Publishing account (required)")
	publishCmd.Flags().BoolVar(&publishBundle, "bundle", false, "The file is a bundle")
	publishCmd.Flags().Uint64Var(&publishMaxGas, "max-gas", vm.DefaultMaxGasPerCall, "Gas limit")
	_ = publishCmd.MarkFlagRequired("file")
	_ = publishCmd.MarkFlagRequired("sender")

	updateStdlibCmd.Flags().StringVarP(&stdlibFile, "file", "f", "", "Stdlib bundle (required)")
	_ = updateStdlibCmd.MarkFlagRequired("file")
}

// committed is a receipt with the block finalized after the operation
type committed struct {
	*vm.Receipt
	Block *ids.ID `json:"block,omitempty"`
}

// report finalizes a block when the operation changed the ledger and
// prints the receipt. A failed operation that still produced a receipt is
// returned as an error after printing it.
func report(cmd *cobra.Command, n *node, version uint64, r *vm.Receipt, err error, payload ...[]byte) error {
	if r == nil {
		return err
	}
	block, _, ferr := n.finalizeSince(version, payload...)
	if ferr != nil {
		return fmt.Errorf("failed to finalize block: %w", ferr)
	}
	if perr := printJSON(cmd, committed{Receipt: r, Block: block}); perr != nil {
		return perr
	}
	return err
}
