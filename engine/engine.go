// Package engine defines the boundary between the coordinator and the code
// that actually interprets module bytecode. The coordinator only needs two
// things from an engine: a static verification pass at publish time and a
// metered run of one entry function at execution time.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/govm-net/mvm/abi"
	"github.com/govm-net/mvm/core"
	"github.com/govm-net/mvm/gas"
	"github.com/govm-net/mvm/types"
)

var (
	// ErrVerification is returned by Verify for code the engine refuses to load
	ErrVerification = errors.New("bytecode verification failed")
	// ErrRuntime is returned by Run for traps and host misuse
	ErrRuntime = errors.New("execution failure")
)

// Store is the state a running module can touch. The coordinator hands in
// a metered view over the invocation's EffectSet.
type Store interface {
	ReadResource(addr core.Address, tag core.TypeTag) ([]byte, bool, error)
	WriteResource(addr core.Address, tag core.TypeTag, value []byte) error
	DeleteResource(addr core.Address, tag core.TypeTag) error
}

// Call describes one entry function invocation
type Call struct {
	Module   *types.ModuleRecord
	Function *abi.Function
	Signer   core.Address
	TypeArgs []core.TypeTag
	Args     [][]byte
}

// Engine 执行引擎
type Engine interface {
	// Verify checks that the package can be loaded and that its code
	// provides every entry function the ABI declares.
	Verify(ctx context.Context, pkg *types.ModulePackage) error
	// Run executes call against store, charging meter for the work done.
	// It returns the bytes the function reported as its result.
	Run(ctx context.Context, call *Call, store Store, meter *gas.Meter) ([]byte, error)
}

// AbortError is a deliberate abort raised by module code
type AbortError struct {
	Code uint64
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("aborted with code %d", e.Code)
}

// Abort returns an AbortError with code
func Abort(code uint64) error {
	return &AbortError{Code: code}
}

// AbortCode extracts the abort code of err, if any
func AbortCode(err error) (uint64, bool) {
	var ae *AbortError
	if errors.As(err, &ae) {
		return ae.Code, true
	}
	return 0, false
}

// Classify maps an error returned by Run onto a VM status
func Classify(err error) core.StatusCode {
	switch {
	case err == nil:
		return core.StatusExecuted
	case errors.Is(err, gas.ErrOutOfGas):
		return core.StatusOutOfGas
	}
	if _, ok := AbortCode(err); ok {
		return core.StatusAborted
	}
	return core.StatusExecutionFailure
}
