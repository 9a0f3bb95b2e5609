package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/govm-net/mvm/abi"
	"github.com/govm-net/mvm/core"
	"github.com/govm-net/mvm/engine/wasm"
	"github.com/govm-net/mvm/types"
)

var (
	packCode   string
	packABI    string
	packDeps   []string
	packOut    string
	packVerify bool
	packMeter  bool
	packCost   uint64

	bundleOut string

	inspectBindings string
)

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Pack wasm code and its ABI into a module package",
	Long: `Pack wasm code and its ABI into a module package.
Code is published only when every function and loop starts with a charge
to env.gas; --instrument inserts those charges.
Example: vm-cli pack --code carwash.wasm --abi carwash.json --dep 0x1::signer --instrument -o carwash.mod`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pkg, err := buildPackage(packCode, packABI, packDeps)
		if err != nil {
			return err
		}
		if packMeter {
			if pkg.Code, err = wasm.Instrument(pkg.Code, packCost); err != nil {
				return fmt.Errorf("failed to instrument %s: %w", packCode, err)
			}
		}
		if packVerify {
			eng := wasm.New(wasm.Config{})
			defer eng.Close(cmd.Context())
			if err := eng.Verify(cmd.Context(), pkg); err != nil {
				return fmt.Errorf("module %s rejected: %w", pkg.ID(), err)
			}
		}

		raw, err := types.EncodeModule(pkg)
		if err != nil {
			return err
		}
		if err := os.WriteFile(packOut, raw, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "packed %s (%d bytes) into %s\n", pkg.ID(), len(raw), packOut)
		return nil
	},
}

var bundleCmd = &cobra.Command{
	Use:   "bundle <module>...",
	Short: "Bundle module packages in publish order",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b := &types.Bundle{}
		for _, path := range args {
			pkg, err := readPackage(path)
			if err != nil {
				return err
			}
			b.Modules = append(b.Modules, *pkg)
		}
		raw, err := types.EncodeBundle(b)
		if err != nil {
			return err
		}
		if err := os.WriteFile(bundleOut, raw, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "bundled %d modules into %s\n", len(b.Modules), bundleOut)
		return nil
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <module>",
	Short: "Print the ABI of a module package",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pkg, err := readPackage(args[0])
		if err != nil {
			return err
		}
		if inspectBindings != "" {
			code, err := abi.GenerateBindings(&pkg.ABI, inspectBindings)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), code)
			return err
		}
		return printJSON(cmd, struct {
			ABI          *abi.ABI        `json:"abi"`
			Dependencies []core.ModuleID `json:"dependencies"`
			CodeSize     int             `json:"code_size"`
			CodeHash     string          `json:"code_hash"`
		}{&pkg.ABI, pkg.Dependencies, len(pkg.Code), fmt.Sprintf("%x", core.Hash(pkg.Code))})
	},
}

func init() {
	packCmd.Flags().StringVar(&packCode, "code", "", "Compiled wasm file (required)")
	packCmd.Flags().StringVar(&packABI, "abi", "", "ABI json file (required)")
	packCmd.Flags().StringSliceVar(&packDeps, "dep", nil, "Dependency as 0x<address>::<name>")
	packCmd.Flags().StringVarP(&packOut, "out", "o", "module.mod", "Output file")
	packCmd.Flags().BoolVar(&packVerify, "verify", false, "Check the code with the wasm engine before packing")
	packCmd.Flags().BoolVar(&packMeter, "instrument", false, "Insert gas charges at every function entry and loop head")
	packCmd.Flags().Uint64Var(&packCost, "meter-cost", wasm.DefaultMeterCost, "Gas charged by each inserted charge")
	_ = packCmd.MarkFlagRequired("code")
	_ = packCmd.MarkFlagRequired("abi")

	bundleCmd.Flags().StringVarP(&bundleOut, "out", "o", "bundle.mvb", "Output file")

	inspectCmd.Flags().StringVar(&inspectBindings, "bindings", "", "Print Go bindings in the given package instead")
}

func buildPackage(codePath, abiPath string, deps []string) (*types.ModulePackage, error) {
	code, err := os.ReadFile(codePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read code: %w", err)
	}
	raw, err := os.ReadFile(abiPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read abi: %w", err)
	}

	pkg := &types.ModulePackage{Code: code}
	if err := json.Unmarshal(raw, &pkg.ABI); err != nil {
		return nil, fmt.Errorf("failed to parse abi %s: %w", abiPath, err)
	}
	for _, d := range deps {
		id, err := core.ParseModuleID(d)
		if err != nil {
			return nil, err
		}
		pkg.Dependencies = append(pkg.Dependencies, id)
	}
	if err := pkg.Validate(); err != nil {
		return nil, err
	}
	return pkg, nil
}

func readPackage(path string) (*types.ModulePackage, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pkg, err := types.DecodeModule(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid module %s: %w", path, err)
	}
	return pkg, nil
}
