package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/govm-net/mvm/core"
	"github.com/govm-net/mvm/types"
)

var (
	txSigner   string
	txModule   string
	txFunction string
	txTypeArgs []string
	txArgs     []string
	txOut      string
)

var txCmd = &cobra.Command{
	Use:   "tx",
	Short: "Build a transaction invoking an entry function",
	Long: `Build a transaction invoking an entry function. Arguments are hex encoded.
Example: vm-cli tx --signer <account> --module 0xb0::CarWash --function buy_coin --arg 0a00000000000000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tx, err := buildTransaction(txSigner, txModule, txFunction, txTypeArgs, txArgs)
		if err != nil {
			return err
		}
		raw, err := types.EncodeTransaction(tx)
		if err != nil {
			return err
		}
		if err := os.WriteFile(txOut, raw, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s::%s transaction (%d bytes) to %s\n", tx.Module, tx.Function, len(raw), txOut)
		return nil
	},
}

func init() {
	txCmd.Flags().StringVar(&txSigner, "signer", "", "Signing account (required)")
	txCmd.Flags().StringVar(&txModule, "module", "", "Module as 0x<address>::<name> (required)")
	txCmd.Flags().StringVar(&txFunction, "function", "", "Entry function (required)")
	txCmd.Flags().StringSliceVar(&txTypeArgs, "type-arg", nil, "Type argument")
	txCmd.Flags().StringArrayVar(&txArgs, "arg", nil, "Hex encoded argument")
	txCmd.Flags().StringVarP(&txOut, "out", "o", "script.tx", "Output file")
	_ = txCmd.MarkFlagRequired("signer")
	_ = txCmd.MarkFlagRequired("module")
	_ = txCmd.MarkFlagRequired("function")
}

func buildTransaction(signer, module, function string, typeArgs, args []string) (*types.Transaction, error) {
	acct, err := core.AccountFromString(signer)
	if err != nil {
		return nil, err
	}
	id, err := core.ParseModuleID(module)
	if err != nil {
		return nil, err
	}

	tx := &types.Transaction{
		Signer:   core.AddressOf(acct),
		Module:   id,
		Function: function,
	}
	for _, t := range typeArgs {
		tx.TypeArgs = append(tx.TypeArgs, core.TypeTag(t))
	}
	for i, a := range args {
		b, err := hex.DecodeString(strings.TrimPrefix(a, "0x"))
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		tx.Args = append(tx.Args, b)
	}
	return tx, nil
}
