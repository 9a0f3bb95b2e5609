package enginetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govm-net/mvm/core"
	"github.com/govm-net/mvm/engine"
	"github.com/govm-net/mvm/gas"
	"github.com/govm-net/mvm/types"
)

type memStore map[core.TypeTag][]byte

func key(addr core.Address, tag core.TypeTag) core.TypeTag {
	return core.TypeTag(addr.String()) + "/" + tag
}

func (m memStore) ReadResource(addr core.Address, tag core.TypeTag) ([]byte, bool, error) {
	v, ok := m[key(addr, tag)]
	return v, ok, nil
}

func (m memStore) WriteResource(addr core.Address, tag core.TypeTag, value []byte) error {
	m[key(addr, tag)] = value
	return nil
}

func (m memStore) DeleteResource(addr core.Address, tag core.TypeTag) error {
	delete(m, key(addr, tag))
	return nil
}

var (
	owner = core.MustAddress("0xb0b")
	user  = core.MustAddress("0xa11ce")
)

func call(t *testing.T, e *Engine, store memStore, signer core.Address, fn string, args ...[]byte) error {
	rec := types.NewModuleRecord(CarWashPackage(owner))
	f, ok := rec.ABI().Function(fn)
	require.True(t, ok)
	_, err := e.Run(context.Background(), &engine.Call{
		Module: rec, Function: f, Signer: signer, Args: args,
	}, store, gas.NewMeter(gas.Unlimited))
	return err
}

func abortCode(err error) uint64 {
	code, _ := engine.AbortCode(err)
	return code
}

func TestCarWashFlow(t *testing.T) {
	e := New()
	RegisterCarWash(e, owner)
	store := memStore{}

	assert.Equal(t, AbortNotOwner, abortCode(call(t, e, store, user, "initial_coin_minting")))
	require.NoError(t, call(t, e, store, owner, "initial_coin_minting"))
	assert.Equal(t, AbortAlreadyInitialized, abortCode(call(t, e, store, owner, "initial_coin_minting")))

	assert.Equal(t, AbortNotRegistered, abortCode(call(t, e, store, user, "wash_car")))
	require.NoError(t, call(t, e, store, user, "register_new_user"))
	assert.Equal(t, AbortNoCoins, abortCode(call(t, e, store, user, "wash_car")))

	assert.Equal(t, AbortBadAmount, abortCode(call(t, e, store, user, "buy_coin", []byte{0})))
	require.NoError(t, call(t, e, store, user, "buy_coin", []byte{2}))
	require.NoError(t, call(t, e, store, user, "wash_car"))

	rec := types.NewModuleRecord(CarWashPackage(owner))
	coins := store[key(user, core.TypeTag(rec.ID().String()+"::Coins"))]
	supply := store[key(owner, core.TypeTag(rec.ID().String()+"::Supply"))]
	assert.Equal(t, uint64(1), DecodeU64(coins))
	assert.Equal(t, InitialSupply-2, DecodeU64(supply))
}

func TestHostCallCost(t *testing.T) {
	e := New()
	e.HostCallCost = 10
	RegisterCarWash(e, owner)

	rec := types.NewModuleRecord(CarWashPackage(owner))
	f, _ := rec.ABI().Function("register_new_user")
	meter := gas.NewMeter(15)
	_, err := e.Run(context.Background(), &engine.Call{Module: rec, Function: f, Signer: user}, memStore{}, meter)
	assert.ErrorIs(t, err, gas.ErrOutOfGas)
	assert.Equal(t, uint64(15), meter.Used())
}

func TestVerify(t *testing.T) {
	e := New()
	ctx := context.Background()
	assert.NoError(t, e.Verify(ctx, CarWashPackage(owner)))

	bad := CarWashPackage(owner)
	bad.Code = append(append([]byte{}, InvalidCode...), 1, 2, 3)
	assert.ErrorIs(t, e.Verify(ctx, bad), engine.ErrVerification)
}

func TestStdlib(t *testing.T) {
	b := Stdlib()
	raw, err := types.EncodeBundle(b)
	require.NoError(t, err)
	decoded, err := types.DecodeBundle(raw)
	require.NoError(t, err)
	assert.Len(t, decoded.Modules, 3)
}
