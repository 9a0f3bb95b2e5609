// Package enginetest provides an engine whose modules are plain Go
// functions. It lets coordinator tests script module behaviour (storage
// access, gas use, aborts) without compiling real bytecode.
package enginetest

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/govm-net/mvm/core"
	"github.com/govm-net/mvm/engine"
	"github.com/govm-net/mvm/gas"
	"github.com/govm-net/mvm/types"
)

// InvalidCode marks a code payload Verify rejects
var InvalidCode = []byte("\x00invalid")

// Func is the body of one module function
type Func func(c *Context) error

// Context is what a Func sees while it runs
type Context struct {
	context.Context
	Call   *engine.Call
	store  engine.Store
	meter  *gas.Meter
	cost   uint64
	result []byte
}

// Signer returns the signing address of the call
func (c *Context) Signer() core.Address {
	return c.Call.Signer
}

// Owner returns the address the running module is published under
func (c *Context) Owner() core.Address {
	return c.Call.Module.ID().Address
}

// Arg returns argument i, failing the call when it is missing
func (c *Context) Arg(i int) ([]byte, error) {
	if err := c.Gas(c.cost); err != nil {
		return nil, err
	}
	if i >= len(c.Call.Args) {
		return nil, fmt.Errorf("%w: argument %d missing", engine.ErrRuntime, i)
	}
	return c.Call.Args[i], nil
}

// Tag scopes a resource name to the running module
func (c *Context) Tag(name string) core.TypeTag {
	return core.TypeTag(fmt.Sprintf("%s::%s", c.Call.Module.ID(), name))
}

// Gas charges amount to the meter
func (c *Context) Gas(amount uint64) error {
	return c.meter.Charge(amount)
}

// Read reads the named resource of the running module at addr
func (c *Context) Read(addr core.Address, name string) ([]byte, bool, error) {
	if err := c.Gas(c.cost); err != nil {
		return nil, false, err
	}
	return c.store.ReadResource(addr, c.Tag(name))
}

// Write writes the named resource of the running module at addr
func (c *Context) Write(addr core.Address, name string, value []byte) error {
	if err := c.Gas(c.cost); err != nil {
		return err
	}
	return c.store.WriteResource(addr, c.Tag(name), value)
}

// Delete removes the named resource of the running module at addr
func (c *Context) Delete(addr core.Address, name string) error {
	if err := c.Gas(c.cost); err != nil {
		return err
	}
	return c.store.DeleteResource(addr, c.Tag(name))
}

// Return sets the result bytes of the call
func (c *Context) Return(b []byte) {
	c.result = b
}

// Engine implements engine.Engine with registered Go functions
type Engine struct {
	// HostCallCost is charged for every storage or argument access
	HostCallCost uint64

	mu    sync.RWMutex
	funcs map[core.ModuleID]map[string]Func
}

var _ engine.Engine = (*Engine)(nil)

// New creates an empty engine
func New() *Engine {
	return &Engine{funcs: make(map[core.ModuleID]map[string]Func)}
}

// Register binds fn as function name of module id
func (e *Engine) Register(id core.ModuleID, name string, fn Func) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.funcs[id] == nil {
		e.funcs[id] = make(map[string]Func)
	}
	e.funcs[id][name] = fn
}

// RegisterModule binds every function of a module at once
func (e *Engine) RegisterModule(id core.ModuleID, fns map[string]Func) {
	for name, fn := range fns {
		e.Register(id, name, fn)
	}
}

// Verify rejects empty code and code starting with InvalidCode
func (e *Engine) Verify(_ context.Context, pkg *types.ModulePackage) error {
	if len(pkg.Code) == 0 || bytes.HasPrefix(pkg.Code, InvalidCode) {
		return fmt.Errorf("%w: %s", engine.ErrVerification, pkg.ID())
	}
	return nil
}

// Run calls the registered function. Unregistered functions succeed
// without doing anything.
func (e *Engine) Run(ctx context.Context, call *engine.Call, store engine.Store, meter *gas.Meter) ([]byte, error) {
	e.mu.RLock()
	fn := e.funcs[call.Module.ID()][call.Function.Name]
	e.mu.RUnlock()

	if fn == nil {
		return nil, nil
	}
	c := &Context{Context: ctx, Call: call, store: store, meter: meter, cost: e.HostCallCost}
	if err := fn(c); err != nil {
		return nil, err
	}
	return c.result, nil
}
