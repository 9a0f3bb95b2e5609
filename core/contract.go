package core

import "fmt"

// StatusCode is the VM status reported for every invocation and estimate
type StatusCode uint64

const (
	StatusUnknown StatusCode = 0

	// authorization and submission checks
	StatusBadOrigin           StatusCode = 1
	StatusAddressMismatch     StatusCode = 2
	StatusReservedNamespace   StatusCode = 3
	StatusInsufficientBalance StatusCode = 4
	StatusLimitExceeded       StatusCode = 5

	// verification
	StatusUnresolvedDependency             StatusCode = 1021
	StatusFunctionNotFound                 StatusCode = 1025
	StatusArgumentMismatch                 StatusCode = 1026
	StatusBackwardIncompatibleModuleUpdate StatusCode = 1054

	// deserialization
	StatusMalformedBytecode StatusCode = 3001

	// execution
	StatusExecuted         StatusCode = 4001
	StatusOutOfGas         StatusCode = 4002
	StatusAborted          StatusCode = 4016
	StatusExecutionFailure StatusCode = 4020
)

var statusNames = map[StatusCode]string{
	StatusUnknown:                          "UNKNOWN",
	StatusBadOrigin:                        "BAD_ORIGIN",
	StatusAddressMismatch:                  "ADDRESS_MISMATCH",
	StatusReservedNamespace:                "RESERVED_NAMESPACE",
	StatusInsufficientBalance:              "INSUFFICIENT_BALANCE",
	StatusLimitExceeded:                    "LIMIT_EXCEEDED",
	StatusUnresolvedDependency:             "UNRESOLVED_DEPENDENCY",
	StatusFunctionNotFound:                 "FUNCTION_NOT_FOUND",
	StatusArgumentMismatch:                 "ARGUMENT_MISMATCH",
	StatusBackwardIncompatibleModuleUpdate: "BACKWARD_INCOMPATIBLE_MODULE_UPDATE",
	StatusMalformedBytecode:                "MALFORMED_BYTECODE",
	StatusExecuted:                         "EXECUTED",
	StatusOutOfGas:                         "OUT_OF_GAS",
	StatusAborted:                          "ABORTED",
	StatusExecutionFailure:                 "EXECUTION_FAILURE",
}

// String returns the symbolic name of the status
func (s StatusCode) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS(%d)", uint64(s))
}

// Success reports whether the status is StatusExecuted
func (s StatusCode) Success() bool {
	return s == StatusExecuted
}
