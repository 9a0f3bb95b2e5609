package vm

import (
	"errors"
	"fmt"

	"github.com/govm-net/mvm/abi"
	"github.com/govm-net/mvm/core"
	"github.com/govm-net/mvm/security"
)

var (
	ErrBadOrigin            = security.ErrBadOrigin
	ErrAddressMismatch      = errors.New("module address does not match sender")
	ErrReservedNamespace    = errors.New("address is reserved for the standard library")
	ErrMalformedBytecode    = errors.New("malformed bytecode")
	ErrUnresolvedDependency = errors.New("unresolved dependency")
	ErrFunctionNotFound     = errors.New("entry function not found")
	ErrArgumentMismatch     = errors.New("argument count mismatch")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrLimitExceeded        = errors.New("limit exceeded")
	ErrOutOfGas             = errors.New("out of gas")
	ErrAborted              = errors.New("execution aborted")
	ErrExecutionFailure     = errors.New("execution failure")
	ErrIncompatibleUpdate   = errors.New("backward incompatible module update")
	ErrStorage              = errors.New("storage failure")
)

// Kind groups errors by the phase they happened in
type Kind uint8

const (
	// KindValidation failed before metering started. Nothing was charged.
	KindValidation Kind = iota
	// KindExecution failed while metered. The fee was charged.
	KindExecution
	// KindCompatibility rejected a module update. Nothing was written.
	KindCompatibility
	// KindStorage is a failure of the ledger itself
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindExecution:
		return "execution"
	case KindCompatibility:
		return "compatibility"
	default:
		return "storage"
	}
}

// Error is the error type returned by every coordinator operation
type Error struct {
	Kind      Kind
	Status    core.StatusCode
	Report    *abi.CompatibilityReport
	AbortCode uint64
	Err       error
}

func (e *Error) Error() string {
	if e.Report != nil && !e.Report.Compatible() {
		return fmt.Sprintf("%s (%s): %v: %s", e.Kind, e.Status, e.Err, e.Report)
	}
	return fmt.Sprintf("%s (%s): %v", e.Kind, e.Status, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func validationError(status core.StatusCode, sentinel error, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Status: status, Err: wrap(sentinel, format, args...)}
}

func wrap(sentinel error, format string, args ...any) error {
	if format == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

func storageError(err error) *Error {
	return &Error{Kind: KindStorage, Status: core.StatusUnknown, Err: fmt.Errorf("%w: %w", ErrStorage, err)}
}

func incompatibleError(report *abi.CompatibilityReport) *Error {
	return &Error{
		Kind:   KindCompatibility,
		Status: core.StatusBackwardIncompatibleModuleUpdate,
		Report: report,
		Err:    ErrIncompatibleUpdate,
	}
}

// sentinelFor maps an execution status onto its sentinel
func sentinelFor(status core.StatusCode) error {
	switch status {
	case core.StatusOutOfGas:
		return ErrOutOfGas
	case core.StatusAborted:
		return ErrAborted
	default:
		return ErrExecutionFailure
	}
}

// StatusOf returns the VM status carried by err
func StatusOf(err error) core.StatusCode {
	if err == nil {
		return core.StatusExecuted
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return core.StatusUnknown
}
