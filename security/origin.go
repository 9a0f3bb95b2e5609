// Package security 提供调用来源校验和静态资源限制
package security

import (
	"errors"
	"fmt"

	"github.com/govm-net/mvm/core"
)

// ErrBadOrigin is returned when a command is issued by the wrong kind of origin
var ErrBadOrigin = errors.New("bad origin")

// OriginKind distinguishes ordinary and privileged callers
type OriginKind uint8

const (
	// NoneOrigin is an unsigned caller
	NoneOrigin OriginKind = iota
	// SignedOrigin is an ordinary account
	SignedOrigin
	// RootOrigin is the privileged governance caller
	RootOrigin
)

// Origin is the authenticated identity issuing a command
type Origin struct {
	kind    OriginKind
	account core.AccountID
}

// Signed returns an ordinary origin for the account
func Signed(account core.AccountID) Origin {
	return Origin{kind: SignedOrigin, account: account}
}

// Root returns the privileged origin
func Root() Origin {
	return Origin{kind: RootOrigin}
}

// None returns an unsigned origin
func None() Origin {
	return Origin{kind: NoneOrigin}
}

// Kind returns the origin kind
func (o Origin) Kind() OriginKind {
	return o.kind
}

// String implements fmt.Stringer
func (o Origin) String() string {
	switch o.kind {
	case SignedOrigin:
		return "signed(" + o.account.String() + ")"
	case RootOrigin:
		return "root"
	default:
		return "none"
	}
}

// EnsureSigned returns the caller account of a signed origin
func EnsureSigned(o Origin) (core.AccountID, error) {
	if o.kind != SignedOrigin {
		return core.AccountID{}, fmt.Errorf("%w: expected signed origin, got %s", ErrBadOrigin, o)
	}
	return o.account, nil
}

// EnsureRoot fails for every origin except Root
func EnsureRoot(o Origin) error {
	if o.kind != RootOrigin {
		return fmt.Errorf("%w: expected root origin, got %s", ErrBadOrigin, o)
	}
	return nil
}
