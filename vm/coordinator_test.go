package vm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govm-net/mvm/core"
	"github.com/govm-net/mvm/engine"
	"github.com/govm-net/mvm/engine/enginetest"
	"github.com/govm-net/mvm/security"
	"github.com/govm-net/mvm/state"
	"github.com/govm-net/mvm/storage/badger"
	"github.com/govm-net/mvm/types"
)

const (
	initialAlice uint64 = 10_000_000_000_000
	maxGas       uint64 = 1_000_000
)

var (
	alice = core.AccountID{0xa1}
	bob   = core.AccountID{0xb0}

	carWash = core.NewModuleID(core.AddressOf(bob), "CarWash")
	stdSign = core.NewModuleID(enginetest.StdAddress, "signer")
	stdCoin = core.NewModuleID(enginetest.StdAddress, "coin")
	stdAcct = core.NewModuleID(enginetest.StdAddress, "account")
)

type harness struct {
	*Coordinator
	eng *enginetest.Engine
	bus evbus.Bus
}

func newHarness(t *testing.T, opts ...func(*Config)) *harness {
	t.Helper()

	backend, err := badger.New(badger.Config{InMemory: true})
	require.NoError(t, err)
	ledger, err := state.New(backend, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	eng := enginetest.New()
	eng.HostCallCost = 10
	enginetest.RegisterCarWash(eng, core.AddressOf(bob))

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	bus := evbus.New()
	c, err := New(cfg, ledger, eng, WithEventBus(bus))
	require.NoError(t, err)

	err = c.InitGenesis(context.Background(), Genesis{
		Balances: map[core.AccountID]uint64{alice: initialAlice},
		Stdlib:   enginetest.Stdlib(),
	})
	require.NoError(t, err)
	return &harness{Coordinator: c, eng: eng, bus: bus}
}

func encodeModule(t *testing.T, pkg *types.ModulePackage) []byte {
	t.Helper()
	raw, err := types.EncodeModule(pkg)
	require.NoError(t, err)
	return raw
}

func encodeBundle(t *testing.T, pkgs ...types.ModulePackage) []byte {
	t.Helper()
	raw, err := types.EncodeBundle(&types.Bundle{Modules: pkgs})
	require.NoError(t, err)
	return raw
}

func encodeTx(t *testing.T, signer core.AccountID, module core.ModuleID, fn string, args ...[]byte) []byte {
	t.Helper()
	raw, err := types.EncodeTransaction(&types.Transaction{
		Signer:   core.AddressOf(signer),
		Module:   module,
		Function: fn,
		Args:     args,
	})
	require.NoError(t, err)
	return raw
}

func (h *harness) publishCarWash(t *testing.T) {
	t.Helper()
	r, err := h.PublishModule(context.Background(), security.Signed(bob),
		encodeModule(t, enginetest.CarWashPackage(core.AddressOf(bob), stdSign)), maxGas)
	require.NoError(t, err)
	require.Equal(t, core.StatusExecuted, r.Status)
}

func (h *harness) run(t *testing.T, signer core.AccountID, fn string, value uint64, args ...[]byte) (*Receipt, error) {
	t.Helper()
	return h.Execute(context.Background(), security.Signed(signer), encodeTx(t, signer, carWash, fn, args...), maxGas, value)
}

func (h *harness) mustRun(t *testing.T, signer core.AccountID, fn string, value uint64, args ...[]byte) *Receipt {
	t.Helper()
	r, err := h.run(t, signer, fn, value, args...)
	require.NoError(t, err, fn)
	require.Equal(t, core.StatusExecuted, r.Status, fn)
	return r
}

func (h *harness) balance(t *testing.T, acct core.AccountID) uint64 {
	t.Helper()
	b, err := h.Ledger().Latest().Balance(acct)
	require.NoError(t, err)
	return b
}

func (h *harness) coins(t *testing.T, owner core.AccountID) (uint64, bool) {
	t.Helper()
	tag := core.TypeTag(carWash.String() + "::Coins")
	raw, ok, err := h.Ledger().Latest().ReadResource(core.AddressOf(owner), tag)
	require.NoError(t, err)
	return enginetest.DecodeU64(raw), ok
}

func TestCarWashEndToEnd(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, initialAlice, h.balance(t, alice))
	require.Zero(t, h.balance(t, bob))

	h.publishCarWash(t)
	h.mustRun(t, bob, "initial_coin_minting", 0)
	h.mustRun(t, alice, "register_new_user", 0)

	r := h.mustRun(t, alice, "buy_coin", enginetest.CoinPrice, []byte{1})
	assert.Zero(t, r.Fee)
	n, ok := h.coins(t, alice)
	require.True(t, ok)
	assert.Equal(t, uint64(1), n)

	h.mustRun(t, alice, "wash_car", 0)
	n, _ = h.coins(t, alice)
	assert.Zero(t, n)

	assert.Equal(t, initialAlice-enginetest.CoinPrice, h.balance(t, alice))
	assert.Equal(t, enginetest.CoinPrice, h.balance(t, bob))
}

func TestExecuteAbortIsAtomic(t *testing.T) {
	h := newHarness(t)
	h.publishCarWash(t)
	h.mustRun(t, bob, "initial_coin_minting", 0)
	h.mustRun(t, alice, "register_new_user", 0)

	// writes Supply and Coins, then aborts
	h.eng.Register(carWash, "wash_car", func(c *enginetest.Context) error {
		if err := c.Write(c.Owner(), "Supply", enginetest.EncodeU64(0)); err != nil {
			return err
		}
		if err := c.Write(c.Signer(), "Coins", enginetest.EncodeU64(99)); err != nil {
			return err
		}
		return engine.Abort(42)
	})

	version := h.Ledger().Version()
	before := h.balance(t, alice)

	r, err := h.run(t, alice, "wash_car", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAborted)
	assert.Equal(t, core.StatusAborted, r.Status)
	assert.Equal(t, uint64(42), r.AbortCode)
	assert.NotZero(t, r.GasUsed)
	assert.Equal(t, r.GasUsed*h.Config().GasPrice, r.Fee)

	var verr *Error
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, KindExecution, verr.Kind)

	n, _ := h.coins(t, alice)
	assert.Zero(t, n)
	supply, ok, err := h.Ledger().Latest().ReadResource(core.AddressOf(bob), core.TypeTag(carWash.String()+"::Supply"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, enginetest.InitialSupply, enginetest.DecodeU64(supply))

	// only the fee moved
	assert.Equal(t, before-r.Fee, h.balance(t, alice))
	assert.Equal(t, version+1, h.Ledger().Version())
}

func TestExecuteOutOfGas(t *testing.T) {
	h := newHarness(t)
	h.publishCarWash(t)

	before := h.balance(t, alice)
	r, err := h.Execute(context.Background(), security.Signed(alice),
		encodeTx(t, alice, carWash, "register_new_user"), 50, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOutOfGas)
	assert.Equal(t, core.StatusOutOfGas, r.Status)
	assert.Equal(t, uint64(50), r.GasUsed)
	assert.Equal(t, uint64(50), r.Fee)
	assert.Equal(t, before-50, h.balance(t, alice))

	_, ok := h.coins(t, alice)
	assert.False(t, ok)
}

func TestExecuteValueMovesOnlyOnSuccess(t *testing.T) {
	h := newHarness(t)
	h.publishCarWash(t)

	// not registered yet, buy_coin aborts and the value stays with alice
	r, err := h.run(t, alice, "buy_coin", enginetest.CoinPrice, []byte{1})
	require.Error(t, err)
	assert.Equal(t, core.StatusAborted, r.Status)
	assert.Equal(t, enginetest.AbortNotRegistered, r.AbortCode)
	assert.Equal(t, initialAlice-r.Fee, h.balance(t, alice))
	assert.Zero(t, h.balance(t, bob))
}

func TestExecuteValidation(t *testing.T) {
	h := newHarness(t)
	h.publishCarWash(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		origin security.Origin
		tx     []byte
		value  uint64
		status core.StatusCode
		target error
	}{
		{"root origin", security.Root(), encodeTx(t, alice, carWash, "wash_car"), 0, core.StatusBadOrigin, ErrBadOrigin},
		{"none origin", security.None(), encodeTx(t, alice, carWash, "wash_car"), 0, core.StatusBadOrigin, ErrBadOrigin},
		{"garbage", security.Signed(alice), []byte{0xff, 0x01}, 0, core.StatusMalformedBytecode, ErrMalformedBytecode},
		{"signer mismatch", security.Signed(alice), encodeTx(t, bob, carWash, "wash_car"), 0, core.StatusAddressMismatch, ErrAddressMismatch},
		{"unknown module", security.Signed(alice), encodeTx(t, alice, core.NewModuleID(core.AddressOf(bob), "Nope"), "wash_car"), 0, core.StatusFunctionNotFound, ErrFunctionNotFound},
		{"unknown function", security.Signed(alice), encodeTx(t, alice, carWash, "dry_car"), 0, core.StatusFunctionNotFound, ErrFunctionNotFound},
		{"not an entry", security.Signed(alice), encodeTx(t, alice, carWash, "coins_of", []byte{1}), 0, core.StatusFunctionNotFound, ErrFunctionNotFound},
		{"missing argument", security.Signed(alice), encodeTx(t, alice, carWash, "buy_coin"), 0, core.StatusArgumentMismatch, ErrArgumentMismatch},
		{"extra argument", security.Signed(alice), encodeTx(t, alice, carWash, "wash_car", []byte{1}), 0, core.StatusArgumentMismatch, ErrArgumentMismatch},
		{"insufficient balance", security.Signed(alice), encodeTx(t, alice, carWash, "wash_car"), initialAlice + 1, core.StatusInsufficientBalance, ErrInsufficientBalance},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			version := h.Ledger().Version()
			r, err := h.Execute(ctx, tc.origin, tc.tx, maxGas, tc.value)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.target)
			assert.Equal(t, tc.status, r.Status)
			assert.Equal(t, tc.status, StatusOf(err))
			assert.Zero(t, r.GasUsed)
			assert.Zero(t, r.Fee)
			assert.Equal(t, version, h.Ledger().Version())
			assert.Equal(t, initialAlice, h.balance(t, alice))
		})
	}
}

func TestInitGenesis(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, uint64(1), h.Ledger().Version())
	for _, id := range []core.ModuleID{stdSign, stdCoin, stdAcct} {
		_, ok, err := h.Registry().Lookup(h.Ledger().Latest(), id)
		require.NoError(t, err)
		assert.True(t, ok, id.String())
	}

	err := h.InitGenesis(context.Background(), Genesis{})
	assert.Error(t, err)
}

func TestNewRejectsConfig(t *testing.T) {
	backend, err := badger.New(badger.Config{InMemory: true})
	require.NoError(t, err)
	ledger, err := state.New(backend, nil)
	require.NoError(t, err)
	defer ledger.Close()

	cfg := DefaultConfig()
	cfg.StdlibAddresses = nil
	_, err = New(cfg, ledger, enginetest.New())
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.StdlibAddresses = append(cfg.StdlibAddresses, enginetest.StdAddress)
	_, err = New(cfg, ledger, enginetest.New())
	assert.Error(t, err)
}

func TestEvents(t *testing.T) {
	h := newHarness(t)

	var (
		mu        sync.Mutex
		published []ModulePublished
		executed  []ScriptExecuted
		failed    []ScriptExecuted
	)
	require.NoError(t, h.bus.Subscribe(TopicModulePublished, func(e ModulePublished) {
		mu.Lock()
		defer mu.Unlock()
		published = append(published, e)
	}))
	require.NoError(t, h.bus.Subscribe(TopicScriptExecuted, func(e ScriptExecuted) {
		mu.Lock()
		defer mu.Unlock()
		executed = append(executed, e)
	}))
	require.NoError(t, h.bus.Subscribe(TopicScriptFailed, func(e ScriptExecuted) {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, e)
	}))

	h.publishCarWash(t)
	h.mustRun(t, alice, "register_new_user", 0)
	_, err := h.run(t, alice, "wash_car", 0)
	require.Error(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(published) == 1 && len(executed) == 1 && len(failed) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, carWash, published[0].Module)
	assert.Equal(t, "register_new_user", executed[0].Function)
	assert.Equal(t, core.StatusAborted, failed[0].Receipt.Status)
}
