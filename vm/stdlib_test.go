package vm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govm-net/mvm/abi"
	"github.com/govm-net/mvm/core"
	"github.com/govm-net/mvm/engine/enginetest"
	"github.com/govm-net/mvm/security"
	"github.com/govm-net/mvm/types"
)

// stdlibWithCoin returns the genesis modules with coin replaced
func stdlibWithCoin(coin types.ModulePackage) []types.ModulePackage {
	mods := enginetest.Stdlib().Modules
	mods[1] = coin
	return mods
}

func (h *harness) stdModules(t *testing.T) []*types.ModuleRecord {
	t.Helper()
	recs, err := h.Ledger().Latest().ModulesAt(enginetest.StdAddress)
	require.NoError(t, err)
	return recs
}

func requireIncompatible(t *testing.T, err error, kind abi.ChangeKind, module core.ModuleID) *Error {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIncompatibleUpdate)

	var verr *Error
	require.True(t, errors.As(err, &verr))
	require.NotNil(t, verr.Report)
	require.NotEmpty(t, verr.Report.Incompatibilities)
	found := false
	for _, inc := range verr.Report.Incompatibilities {
		if inc.Kind == kind && inc.Module == module {
			found = true
		}
	}
	assert.True(t, found, verr.Report.String())
	return verr
}

func TestUpdateStdlibBadOrigin(t *testing.T) {
	h := newHarness(t)
	before := h.stdModules(t)
	version := h.Ledger().Version()

	for _, origin := range []security.Origin{security.Signed(alice), security.None()} {
		r, err := h.UpdateStdlibBundle(context.Background(), origin, []byte("garbage"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrBadOrigin)
		assert.Equal(t, core.StatusBadOrigin, r.Status)
		assert.Zero(t, r.GasUsed)
		assert.Zero(t, r.Fee)
	}

	assert.Equal(t, before, h.stdModules(t))
	assert.Equal(t, version, h.Ledger().Version())
	assert.Equal(t, initialAlice, h.balance(t, alice))
}

func TestUpdateStdlibSignatureChanges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := map[string][]core.TypeTag{
		"param added":   {"&signer", "address", "u64", "u64"},
		"param removed": {"&signer", "address"},
	}
	for name, params := range cases {
		t.Run(name, func(t *testing.T) {
			before := h.stdModules(t)
			version := h.Ledger().Version()

			coin := enginetest.StdModule("coin", []core.ModuleID{stdSign}, params)
			r, err := h.UpdateStdlibBundle(ctx, security.Root(), encodeBundle(t, stdlibWithCoin(coin)...))
			requireIncompatible(t, err, abi.ArityChanged, stdCoin)
			assert.Equal(t, core.StatusBackwardIncompatibleModuleUpdate, r.Status)
			assert.Zero(t, r.Fee)

			assert.Equal(t, before, h.stdModules(t))
			assert.Equal(t, version, h.Ledger().Version())
		})
	}
}

func TestUpdateStdlibAdditive(t *testing.T) {
	h := newHarness(t)
	h.publishCarWash(t)
	ctx := context.Background()

	mods := enginetest.Stdlib().Modules
	mods[0] = enginetest.StdModule("signer", nil, []core.TypeTag{"&signer"}, []core.TypeTag{"&signer", "u64"})
	mods = append(mods, enginetest.StdModule("vector", nil, []core.TypeTag{"u64"}))

	r, err := h.UpdateStdlibBundle(ctx, security.Root(), encodeBundle(t, mods...))
	require.NoError(t, err)
	assert.Equal(t, core.StatusExecuted, r.Status)
	assert.NotZero(t, r.GasUsed)
	assert.Zero(t, r.Fee)
	assert.Len(t, h.stdModules(t), 4)

	signer, found, err := h.Registry().LookupABI(h.Ledger().Latest(), enginetest.StdAddress, "signer")
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, signer.Functions, 2)

	// user modules linked against the old stdlib keep working
	h.mustRun(t, bob, "initial_coin_minting", 0)
	h.mustRun(t, alice, "register_new_user", 0)
	h.mustRun(t, alice, "buy_coin", enginetest.CoinPrice, []byte{1})
	h.mustRun(t, alice, "wash_car", 0)
	assert.Equal(t, enginetest.CoinPrice, h.balance(t, bob))
}

func TestUpdateStdlibAllOrNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	version := h.Ledger().Version()

	mods := stdlibWithCoin(enginetest.StdModule("coin", []core.ModuleID{stdSign}, []core.TypeTag{"&signer", "u64", "u64"}))
	for i := len(mods); i < 10; i++ {
		mods = append(mods, enginetest.StdModule(fmt.Sprintf("extra%d", i), []core.ModuleID{stdSign}, []core.TypeTag{"u8"}))
	}
	require.Len(t, mods, 10)

	_, err := h.UpdateStdlibBundle(ctx, security.Root(), encodeBundle(t, mods...))
	requireIncompatible(t, err, abi.ParameterTypeChanged, stdCoin)

	assert.Equal(t, version, h.Ledger().Version())
	assert.Len(t, h.stdModules(t), 3)
	for i := 3; i < 10; i++ {
		_, ok, err := h.Registry().Lookup(h.Ledger().Latest(), core.NewModuleID(enginetest.StdAddress, fmt.Sprintf("extra%d", i)))
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestUpdateStdlibDroppedModule(t *testing.T) {
	t.Run("still required", func(t *testing.T) {
		h := newHarness(t)
		h.publishCarWash(t)
		version := h.Ledger().Version()

		// coin and account keep linking signer, and so does CarWash
		mods := enginetest.Stdlib().Modules[1:]
		_, err := h.UpdateStdlibBundle(context.Background(), security.Root(), encodeBundle(t, mods...))
		verr := requireIncompatible(t, err, abi.ModuleDropped, stdSign)
		assert.Len(t, verr.Report.Incompatibilities, 3)
		assert.Equal(t, version, h.Ledger().Version())
	})

	t.Run("external dependent", func(t *testing.T) {
		h := newHarness(t)
		h.publishCarWash(t)

		coin := enginetest.StdModule("coin", nil, []core.TypeTag{"&signer", "address", "u64"})
		account := enginetest.StdModule("account", []core.ModuleID{stdCoin}, []core.TypeTag{"address"})
		_, err := h.UpdateStdlibBundle(context.Background(), security.Root(), encodeBundle(t, coin, account))
		verr := requireIncompatible(t, err, abi.ModuleDropped, stdSign)
		require.Len(t, verr.Report.Incompatibilities, 1)
		assert.Contains(t, verr.Report.Incompatibilities[0].New, carWash.String())
	})

	t.Run("no dependents left", func(t *testing.T) {
		h := newHarness(t)

		coin := enginetest.StdModule("coin", nil, []core.TypeTag{"&signer", "address", "u64"})
		account := enginetest.StdModule("account", []core.ModuleID{stdCoin}, []core.TypeTag{"address"})
		r, err := h.UpdateStdlibBundle(context.Background(), security.Root(), encodeBundle(t, coin, account))
		require.NoError(t, err)
		assert.Equal(t, core.StatusExecuted, r.Status)

		deps, err := h.Registry().Dependents(h.Ledger().Latest(), stdSign)
		require.NoError(t, err)
		assert.Empty(t, deps)

		// the dropped module stays stored
		_, ok, err := h.Registry().Lookup(h.Ledger().Latest(), stdSign)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestUpdateStdlibValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	r, err := h.UpdateStdlibBundle(ctx, security.Root(), []byte("garbage"))
	assert.ErrorIs(t, err, ErrMalformedBytecode)
	assert.Equal(t, core.StatusMalformedBytecode, r.Status)

	_, err = h.UpdateStdlibBundle(ctx, security.Root(), encodeBundle(t, userModule(alice, "NotStd")))
	assert.ErrorIs(t, err, ErrAddressMismatch)

	missing := enginetest.StdModule("extra", []core.ModuleID{core.NewModuleID(enginetest.StdAddress, "nope")})
	_, err = h.UpdateStdlibBundle(ctx, security.Root(), encodeBundle(t, missing))
	assert.ErrorIs(t, err, ErrUnresolvedDependency)

	bad := enginetest.StdModule("extra", nil)
	bad.Code = append([]byte(nil), enginetest.InvalidCode...)
	_, err = h.UpdateStdlibBundle(ctx, security.Root(), encodeBundle(t, bad))
	assert.ErrorIs(t, err, ErrMalformedBytecode)

	assert.Len(t, h.stdModules(t), 3)
}
