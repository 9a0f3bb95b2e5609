package enginetest

import (
	"fmt"

	"github.com/govm-net/mvm/abi"
	"github.com/govm-net/mvm/core"
	"github.com/govm-net/mvm/types"
)

// StdAddress is the default standard library namespace
var StdAddress = core.MustAddress("0x1")

// StdModule returns a standard library module with one public function
// per entry of params, named f0, f1, ...
func StdModule(name string, deps []core.ModuleID, params ...[]core.TypeTag) types.ModulePackage {
	a := abi.ABI{Address: StdAddress, Name: name}
	for i, p := range params {
		a.Functions = append(a.Functions, abi.Function{
			Name:       fmt.Sprintf("f%d", i),
			Visibility: abi.Public,
			Params:     p,
		})
	}
	return types.ModulePackage{ABI: a, Dependencies: deps, Code: []byte("std::" + name)}
}

// Stdlib returns a small standard library: signer, coin (depends on
// signer) and account (depends on both).
func Stdlib() *types.Bundle {
	signer := core.NewModuleID(StdAddress, "signer")
	coin := core.NewModuleID(StdAddress, "coin")
	return &types.Bundle{Modules: []types.ModulePackage{
		StdModule("signer", nil, []core.TypeTag{"&signer"}),
		StdModule("coin", []core.ModuleID{signer}, []core.TypeTag{"&signer", "address", "u64"}),
		StdModule("account", []core.ModuleID{signer, coin}, []core.TypeTag{"address"}),
	}}
}
