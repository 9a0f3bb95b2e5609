package enginetest

import (
	"encoding/binary"

	"github.com/govm-net/mvm/abi"
	"github.com/govm-net/mvm/core"
	"github.com/govm-net/mvm/engine"
	"github.com/govm-net/mvm/types"
)

// CoinPrice is what one car wash coin costs
const CoinPrice uint64 = 1_000_000_000_000

// InitialSupply is the number of coins minted by initial_coin_minting
const InitialSupply uint64 = 100

// CarWash abort codes
const (
	AbortNotOwner uint64 = iota + 1
	AbortAlreadyInitialized
	AbortNotInitialized
	AbortAlreadyRegistered
	AbortNotRegistered
	AbortBadAmount
	AbortSoldOut
	AbortNoCoins
)

// CarWashABI describes the car wash module published by owner
func CarWashABI(owner core.Address) abi.ABI {
	signer := []core.TypeTag{"&signer"}
	return abi.ABI{
		Address: owner,
		Name:    "CarWash",
		Functions: []abi.Function{
			{Name: "initial_coin_minting", Visibility: abi.Public, IsEntry: true, Params: signer},
			{Name: "register_new_user", Visibility: abi.Public, IsEntry: true, Params: signer},
			{Name: "buy_coin", Visibility: abi.Public, IsEntry: true, Params: []core.TypeTag{"&signer", "u8"}},
			{Name: "wash_car", Visibility: abi.Public, IsEntry: true, Params: signer},
			{Name: "coins_of", Visibility: abi.Public, Params: []core.TypeTag{"address"}, Returns: []core.TypeTag{"u64"}},
		},
		Structs: []abi.Struct{
			{Name: "Coins", Abilities: []abi.Ability{abi.AbilityKey}, Fields: []abi.Field{{Name: "value", Type: "u64"}}},
			{Name: "Supply", Abilities: []abi.Ability{abi.AbilityKey}, Fields: []abi.Field{{Name: "value", Type: "u64"}}},
		},
	}
}

// CarWashPackage returns the publishable car wash module
func CarWashPackage(owner core.Address, deps ...core.ModuleID) *types.ModulePackage {
	return &types.ModulePackage{
		ABI:          CarWashABI(owner),
		Dependencies: deps,
		Code:         []byte("carwash"),
	}
}

// RegisterCarWash installs the car wash functions for the module of owner
func RegisterCarWash(e *Engine, owner core.Address) {
	e.RegisterModule(core.NewModuleID(owner, "CarWash"), map[string]Func{
		"initial_coin_minting": initialCoinMinting,
		"register_new_user":    registerNewUser,
		"buy_coin":             buyCoin,
		"wash_car":             washCar,
	})
}

// EncodeU64 is the resource encoding of a counter
func EncodeU64(v uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, v)
}

// DecodeU64 reverses EncodeU64
func DecodeU64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func readCounter(c *Context, addr core.Address, name string, missing uint64) (uint64, error) {
	raw, ok, err := c.Read(addr, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, engine.Abort(missing)
	}
	return DecodeU64(raw), nil
}

func initialCoinMinting(c *Context) error {
	if c.Signer() != c.Owner() {
		return engine.Abort(AbortNotOwner)
	}
	if _, ok, err := c.Read(c.Owner(), "Supply"); err != nil {
		return err
	} else if ok {
		return engine.Abort(AbortAlreadyInitialized)
	}
	return c.Write(c.Owner(), "Supply", EncodeU64(InitialSupply))
}

func registerNewUser(c *Context) error {
	if _, ok, err := c.Read(c.Signer(), "Coins"); err != nil {
		return err
	} else if ok {
		return engine.Abort(AbortAlreadyRegistered)
	}
	return c.Write(c.Signer(), "Coins", EncodeU64(0))
}

func buyCoin(c *Context) error {
	arg, err := c.Arg(0)
	if err != nil {
		return err
	}
	if len(arg) != 1 || arg[0] == 0 {
		return engine.Abort(AbortBadAmount)
	}
	count := uint64(arg[0])

	coins, err := readCounter(c, c.Signer(), "Coins", AbortNotRegistered)
	if err != nil {
		return err
	}
	supply, err := readCounter(c, c.Owner(), "Supply", AbortNotInitialized)
	if err != nil {
		return err
	}
	if supply < count {
		return engine.Abort(AbortSoldOut)
	}

	if err := c.Write(c.Owner(), "Supply", EncodeU64(supply-count)); err != nil {
		return err
	}
	return c.Write(c.Signer(), "Coins", EncodeU64(coins+count))
}

func washCar(c *Context) error {
	coins, err := readCounter(c, c.Signer(), "Coins", AbortNotRegistered)
	if err != nil {
		return err
	}
	if coins == 0 {
		return engine.Abort(AbortNoCoins)
	}
	return c.Write(c.Signer(), "Coins", EncodeU64(coins-1))
}
