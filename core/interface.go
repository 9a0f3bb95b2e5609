// Package core provides the identifiers shared by every layer of the VM:
// ledger accounts, VM addresses, module identities, type tags and status codes.
package core

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// Common errors returned while parsing identifiers
var (
	ErrInvalidAddress  = errors.New("invalid address")
	ErrInvalidAccount  = errors.New("invalid account")
	ErrInvalidModuleID = errors.New("invalid module id")
)

// AddressLength is the width of both Address and AccountID
const AddressLength = 32

// Address is the VM-facing account address
type Address [AddressLength]byte

// AccountID is the ledger-native account identifier
type AccountID [AddressLength]byte

// String returns the 0x prefixed hex form of the address
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// ShortString trims leading zero bytes, e.g. 0x1 for the first stdlib address.
func (a Address) ShortString() string {
	s := strings.TrimLeft(hex.EncodeToString(a[:]), "0")
	if s == "" {
		s = "0"
	}
	return "0x" + s
}

// MarshalText implements encoding.TextMarshaler
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (a *Address) UnmarshalText(text []byte) error {
	addr, err := AddressFromString(string(text))
	if err != nil {
		return err
	}
	*a = addr
	return nil
}

// IsZero reports whether every byte is zero
func (a Address) IsZero() bool {
	return a == Address{}
}

// String returns the base58 form of the account
func (id AccountID) String() string {
	return base58.Encode(id[:])
}

// MarshalText implements encoding.TextMarshaler
func (id AccountID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (id *AccountID) UnmarshalText(text []byte) error {
	acct, err := AccountFromString(string(text))
	if err != nil {
		return err
	}
	*id = acct
	return nil
}

// AddressOf maps a ledger account to its VM address.
// The mapping is a bijection; AccountOf is its inverse.
func AddressOf(id AccountID) Address {
	return Address(id)
}

// AccountOf maps a VM address back to the ledger account
func AccountOf(addr Address) AccountID {
	return AccountID(addr)
}

// ModuleID identifies a module by owner address and name
type ModuleID struct {
	Address Address `serialize:"true" json:"address"`
	Name    string  `serialize:"true" json:"name"`
}

// NewModuleID builds a module identifier
func NewModuleID(addr Address, name string) ModuleID {
	return ModuleID{Address: addr, Name: name}
}

// String returns the canonical form 0x<address>::<name>
func (id ModuleID) String() string {
	return fmt.Sprintf("%s::%s", id.Address.ShortString(), id.Name)
}

// TypeTag is the canonical text of a VM type, e.g. "u64" or "0x1::coin::Coin".
type TypeTag string

// String implements fmt.Stringer
func (t TypeTag) String() string {
	return string(t)
}

// IsSigner reports whether the tag denotes the transaction signer
// (passed by value or by reference).
func (t TypeTag) IsSigner() bool {
	s := strings.TrimSpace(string(t))
	s = strings.TrimPrefix(s, "&")
	return s == "signer"
}
