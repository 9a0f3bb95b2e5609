package wasm

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

var wasmHeader = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func module(sections ...[]byte) []byte {
	out := append([]byte(nil), wasmHeader...)
	for _, s := range sections {
		out = append(out, s...)
	}
	return out
}

var (
	// () -> (), exported as spin
	spinTypes  = []byte{0x01, 0x04, 0x01, 0x60, 0x00, 0x00}
	spinFunc   = []byte{0x03, 0x02, 0x01, 0x00}
	spinExport = []byte{0x07, 0x08, 0x01, 0x04, 's', 'p', 'i', 'n', 0x00, 0x00}

	// (i64) -> () for env.gas, () -> () for spin at index 1
	gasTypes      = []byte{0x01, 0x08, 0x02, 0x60, 0x01, 0x7e, 0x00, 0x60, 0x00, 0x00}
	gasImport     = []byte{0x02, 0x0b, 0x01, 0x03, 'e', 'n', 'v', 0x03, 'g', 'a', 's', 0x00, 0x00}
	gasSpinFunc   = []byte{0x03, 0x02, 0x01, 0x01}
	gasSpinExport = []byte{0x07, 0x08, 0x01, 0x04, 's', 'p', 'i', 'n', 0x00, 0x01}

	// loop br 0 end end
	spinCode = []byte{0x0a, 0x09, 0x01, 0x07, 0x00, 0x03, 0x40, 0x0c, 0x00, 0x0b, 0x0b}
	// gas(1) loop br 0 end end
	entryOnlyCode = []byte{0x0a, 0x0d, 0x01, 0x0b, 0x00, 0x42, 0x01, 0x10, 0x00, 0x03, 0x40, 0x0c, 0x00, 0x0b, 0x0b}
	// gas(1) loop gas(1) br 0 end end
	meteredSpinCode = []byte{0x0a, 0x11, 0x01, 0x0f, 0x00, 0x42, 0x01, 0x10, 0x00, 0x03, 0x40, 0x42, 0x01, 0x10, 0x00, 0x0c, 0x00, 0x0b, 0x0b}
)

func spinCall(t *testing.T, e *Engine, code []byte, limit uint64) (*gas.Meter, error) {
	t.Helper()
	rec := types.NewModuleRecord(testPackage(code, "spin"))
	f, ok := rec.ABI().Function("spin")
	require.True(t, ok)

	meter := gas.NewMeter(limit)
	_, err := e.Run(context.Background(), &engine.Call{Module: rec, Function: f}, memStore{}, meter)
	return meter, err
}

func TestVerifyRejectsUnmeteredCode(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	for name, code := range map[string][]byte{
		"no gas import":    module(spinTypes, spinFunc, spinExport, spinCode),
		"no entry charge":  module(gasTypes, gasImport, gasSpinFunc, gasSpinExport, spinCode),
		"loop not metered": module(gasTypes, gasImport, gasSpinFunc, gasSpinExport, entryOnlyCode),
	} {
		t.Run(name, func(t *testing.T) {
			err := e.Verify(ctx, testPackage(code, "spin"))
			assert.ErrorIs(t, err, engine.ErrVerification)
			assert.ErrorIs(t, err, ErrUnmetered)
		})
	}

	require.NoError(t, e.Verify(ctx, testPackage(module(gasTypes, gasImport, gasSpinFunc, gasSpinExport, meteredSpinCode), "spin")))
}

func TestInstrument(t *testing.T) {
	code, err := Instrument(module(gasTypes, gasImport, gasSpinFunc, gasSpinExport, spinCode), DefaultMeterCost)
	require.NoError(t, err)
	assert.Equal(t, module(gasTypes, gasImport, gasSpinFunc, gasSpinExport, meteredSpinCode), code)
	assert.NoError(t, checkMetered(code))

	// sections after the code section survive
	custom := []byte{0x00, 0x03, 0x01, 'x', 0x01}
	code, err = Instrument(module(gasTypes, gasImport, gasSpinFunc, gasSpinExport, spinCode, custom), DefaultMeterCost)
	require.NoError(t, err)
	assert.Equal(t, module(gasTypes, gasImport, gasSpinFunc, gasSpinExport, meteredSpinCode, custom), code)

	_, err = Instrument(module(spinTypes, spinFunc, spinExport, spinCode), DefaultMeterCost)
	assert.ErrorIs(t, err, ErrUnmetered)

	_, err = Instrument(module(gasTypes, gasImport, gasSpinFunc, gasSpinExport, spinCode), 0)
	assert.Error(t, err)

	_, err = Instrument([]byte{0xde, 0xad, 0xbe, 0xef}, DefaultMeterCost)
	assert.Error(t, err)
}

func TestInfiniteLoopRunsOutOfGas(t *testing.T) {
	e := newEngine(t)
	code, err := Instrument(module(gasTypes, gasImport, gasSpinFunc, gasSpinExport, spinCode), 3)
	require.NoError(t, err)
	require.NoError(t, e.Verify(context.Background(), testPackage(code, "spin")))

	meter, err := spinCall(t, e, code, 100)
	assert.ErrorIs(t, err, gas.ErrOutOfGas)
	assert.Equal(t, uint64(100), meter.Used())
	assert.Equal(t, core.StatusOutOfGas, engine.Classify(err))
}

func TestSignedLEB(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 63, 64, -64, -65, 1 << 40, -(1 << 62)} {
		r := &reader{data: appendSLEB(nil, v)}
		assert.Equal(t, v, r.sleb(), "value %d", v)
		require.NoError(t, r.err)
		assert.Equal(t, len(r.data), r.pos)
	}
}
