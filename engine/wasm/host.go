package wasm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/govm-net/mvm/core"
	"github.com/govm-net/mvm/engine"
	"github.com/govm-net/mvm/gas"
)

// HostModule is the import namespace modules link against
const HostModule = "env"

var i32, i64 = api.ValueTypeI32, api.ValueTypeI64

type signature struct {
	params  []api.ValueType
	results []api.ValueType
}

// hostFunctions lists every import a module may declare
var hostFunctions = map[string]signature{
	"gas":             {params: []api.ValueType{i64}},
	"abort":           {params: []api.ValueType{i64}},
	"arg_count":       {results: []api.ValueType{i32}},
	"arg_len":         {params: []api.ValueType{i32}, results: []api.ValueType{i32}},
	"arg_read":        {params: []api.ValueType{i32, i32}, results: []api.ValueType{i32}},
	"signer":          {params: []api.ValueType{i32}},
	"resource_read":   {params: []api.ValueType{i32, i32, i32, i32, i32}, results: []api.ValueType{i32}},
	"resource_write":  {params: []api.ValueType{i32, i32, i32, i32, i32}, results: []api.ValueType{i32}},
	"resource_delete": {params: []api.ValueType{i32, i32, i32}, results: []api.ValueType{i32}},
	"set_return":      {params: []api.ValueType{i32, i32}},
}

// errMemoryAccess is raised for out of bounds pointers handed to the host
var errMemoryAccess = errors.New("memory access out of bounds")

// callState is the host side of one Run. The first fault wins; host
// functions record it and then unwind the guest with a panic.
type callState struct {
	call  *engine.Call
	store engine.Store
	meter *gas.Meter
	cost  uint64

	fault  error
	result []byte
}

func (s *callState) fail(err error) {
	if s.fault == nil {
		s.fault = err
	}
	panic(err)
}

func (s *callState) charge(amount uint64) {
	if err := s.meter.Charge(amount); err != nil {
		s.fail(err)
	}
}

func (s *callState) read(m api.Module, ptr, n uint32) []byte {
	data, ok := m.Memory().Read(ptr, n)
	if !ok {
		s.fail(fmt.Errorf("%w: %w (%d+%d)", engine.ErrRuntime, errMemoryAccess, ptr, n))
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

func (s *callState) write(m api.Module, ptr uint32, data []byte) {
	if !m.Memory().Write(ptr, data) {
		s.fail(fmt.Errorf("%w: %w (%d+%d)", engine.ErrRuntime, errMemoryAccess, ptr, len(data)))
	}
}

func (s *callState) address(m api.Module, ptr uint32) core.Address {
	var addr core.Address
	copy(addr[:], s.read(m, ptr, core.AddressLength))
	return addr
}

// tag scopes a resource name to the running module so a module can only
// reach data types it declares.
func (s *callState) tag(m api.Module, ptr, n uint32) core.TypeTag {
	name := s.read(m, ptr, n)
	return core.TypeTag(fmt.Sprintf("%s::%s", s.call.Module.ID(), name))
}

func (s *callState) storeErr(err error) {
	if err != nil {
		s.fail(err)
	}
}

// instantiateHost builds the env module bound to one call
func instantiateHost(ctx context.Context, r wazero.Runtime, s *callState) error {
	b := r.NewHostModuleBuilder(HostModule)

	b.NewFunctionBuilder().
		WithParameterNames("amount").
		WithFunc(func(_ context.Context, amount uint64) {
			s.charge(amount)
		}).Export("gas")

	b.NewFunctionBuilder().
		WithParameterNames("code").
		WithFunc(func(_ context.Context, code uint64) {
			s.fail(engine.Abort(code))
		}).Export("abort")

	b.NewFunctionBuilder().
		WithFunc(func(_ context.Context) uint32 {
			s.charge(s.cost)
			return uint32(len(s.call.Args))
		}).Export("arg_count")

	b.NewFunctionBuilder().
		WithParameterNames("index").
		WithFunc(func(_ context.Context, index uint32) int32 {
			s.charge(s.cost)
			if int(index) >= len(s.call.Args) {
				return -1
			}
			return int32(len(s.call.Args[index]))
		}).Export("arg_len")

	b.NewFunctionBuilder().
		WithParameterNames("index", "ptr").
		WithFunc(func(_ context.Context, m api.Module, index, ptr uint32) int32 {
			s.charge(s.cost)
			if int(index) >= len(s.call.Args) {
				return -1
			}
			arg := s.call.Args[index]
			s.write(m, ptr, arg)
			return int32(len(arg))
		}).Export("arg_read")

	b.NewFunctionBuilder().
		WithParameterNames("ptr").
		WithFunc(func(_ context.Context, m api.Module, ptr uint32) {
			s.charge(s.cost)
			s.write(m, ptr, s.call.Signer[:])
		}).Export("signer")

	b.NewFunctionBuilder().
		WithParameterNames("addr", "tag", "tag_len", "buf", "cap").
		WithFunc(func(_ context.Context, m api.Module, addrPtr, tagPtr, tagLen, buf, capacity uint32) int32 {
			s.charge(s.cost)
			v, ok, err := s.store.ReadResource(s.address(m, addrPtr), s.tag(m, tagPtr, tagLen))
			s.storeErr(err)
			if !ok {
				return -1
			}
			if uint32(len(v)) <= capacity {
				s.write(m, buf, v)
			}
			return int32(len(v))
		}).Export("resource_read")

	b.NewFunctionBuilder().
		WithParameterNames("addr", "tag", "tag_len", "val", "val_len").
		WithFunc(func(_ context.Context, m api.Module, addrPtr, tagPtr, tagLen, val, valLen uint32) int32 {
			s.charge(s.cost)
			s.storeErr(s.store.WriteResource(s.address(m, addrPtr), s.tag(m, tagPtr, tagLen), s.read(m, val, valLen)))
			return 0
		}).Export("resource_write")

	b.NewFunctionBuilder().
		WithParameterNames("addr", "tag", "tag_len").
		WithFunc(func(_ context.Context, m api.Module, addrPtr, tagPtr, tagLen uint32) int32 {
			s.charge(s.cost)
			s.storeErr(s.store.DeleteResource(s.address(m, addrPtr), s.tag(m, tagPtr, tagLen)))
			return 0
		}).Export("resource_delete")

	b.NewFunctionBuilder().
		WithParameterNames("ptr", "len").
		WithFunc(func(_ context.Context, m api.Module, ptr, n uint32) {
			s.charge(s.cost)
			s.result = s.read(m, ptr, n)
		}).Export("set_return")

	_, err := b.Instantiate(ctx)
	return err
}
