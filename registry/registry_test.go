package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govm-net/mvm/abi"
	"github.com/govm-net/mvm/core"
	"github.com/govm-net/mvm/state"
	"github.com/govm-net/mvm/storage/badger"
	"github.com/govm-net/mvm/types"
)

var std = core.MustAddress("0x1")

func newLedger(t *testing.T) *state.Ledger {
	backend, err := badger.New(badger.Config{InMemory: true})
	require.NoError(t, err)
	l, err := state.New(backend, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func coinABI(params ...core.TypeTag) abi.ABI {
	return abi.ABI{
		Address: std,
		Name:    "coin",
		Functions: []abi.Function{
			{Name: "transfer", Visibility: abi.Public, IsEntry: true, Params: params},
		},
	}
}

func publish(t *testing.T, l *state.Ledger, a abi.ABI, deps ...core.ModuleID) {
	es := l.Begin(nil)
	require.NoError(t, es.WriteModule(types.NewModuleRecord(&types.ModulePackage{
		ABI: a, Dependencies: deps, Code: []byte{0x01},
	})))
	require.NoError(t, l.Commit(es))
}

func TestLookupABI(t *testing.T) {
	l := newLedger(t)
	r, err := New(0, nil)
	require.NoError(t, err)

	_, ok, err := r.LookupABI(l.Latest(), std, "coin")
	require.NoError(t, err)
	assert.False(t, ok)

	publish(t, l, coinABI("&signer", "address", "u64"))
	h := l.Latest()

	a, ok, err := r.LookupABI(h, std, "coin")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "coin", a.Name)

	// cached entry is returned for the same version
	again, ok, err := r.LookupABI(h, std, "coin")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Same(t, a, again)

	// a newer version is looked up again
	publish(t, l, coinABI("&signer", "address", "u64", "vector<u8>"))
	updated, ok, err := r.LookupABI(l.Latest(), std, "coin")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, updated.Functions[0].Params, 4)

	// the old handle still sees the old ABI
	old, _, err := r.LookupABI(h, std, "coin")
	require.NoError(t, err)
	assert.Len(t, old.Functions[0].Params, 3)
}

func TestLookupABIEffectSetNotCached(t *testing.T) {
	l := newLedger(t)
	r, err := New(8, nil)
	require.NoError(t, err)

	es := l.Begin(nil)
	defer es.Discard()
	require.NoError(t, es.WriteModule(types.NewModuleRecord(&types.ModulePackage{ABI: coinABI(), Code: []byte{1}})))

	_, ok, err := r.LookupABI(es, std, "coin")
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = r.LookupABI(l.Latest(), std, "coin")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolve(t *testing.T) {
	l := newLedger(t)
	r, err := New(8, nil)
	require.NoError(t, err)
	publish(t, l, coinABI())

	coin := core.NewModuleID(std, "coin")
	signer := core.NewModuleID(std, "signer")

	require.NoError(t, r.Resolve(l.Latest(), []core.ModuleID{coin}, nil))
	require.NoError(t, r.Resolve(l.Latest(), []core.ModuleID{coin, signer}, map[core.ModuleID]bool{signer: true}))

	err = r.Resolve(l.Latest(), []core.ModuleID{coin, signer}, nil)
	assert.ErrorIs(t, err, ErrUnresolvedDependency)
	assert.Contains(t, err.Error(), "signer")
}

func TestDependentsAndCheckUpdate(t *testing.T) {
	l := newLedger(t)
	r, err := New(8, nil)
	require.NoError(t, err)

	publish(t, l, coinABI("&signer", "u64"))
	wash := abi.ABI{Address: core.MustAddress("0xb0b"), Name: "CarWash"}
	publish(t, l, wash, core.NewModuleID(std, "coin"))

	deps, err := r.Dependents(l.Latest(), core.NewModuleID(std, "coin"))
	require.NoError(t, err)
	assert.Equal(t, []core.ModuleID{wash.ID()}, deps)

	fresh := abi.ABI{Address: std, Name: "string"}
	report, existed, err := r.CheckUpdate(l.Latest(), &fresh)
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Nil(t, report)

	same := coinABI("&signer", "u64")
	report, existed, err = r.CheckUpdate(l.Latest(), &same)
	require.NoError(t, err)
	assert.True(t, existed)
	assert.True(t, report.Compatible())

	broken := coinABI("&signer")
	report, _, err = r.CheckUpdate(l.Latest(), &broken)
	require.NoError(t, err)
	require.False(t, report.Compatible())
	assert.Equal(t, abi.ArityChanged, report.Incompatibilities[0].Kind)
}
