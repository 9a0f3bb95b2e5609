package core

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// Hash calculates the blake2b-256 hash of data
func Hash(data []byte) [32]byte {
	return blake2b.Sum256(data)
}

// AddressFromString parses a hex address. The 0x prefix is optional and
// short forms such as "0x1" are left padded with zeros.
func AddressFromString(s string) (Address, error) {
	var addr Address

	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if len(s) == 0 || len(s) > AddressLength*2 {
		return addr, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}

	bytes, err := hex.DecodeString(s)
	if err != nil {
		return addr, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	copy(addr[AddressLength-len(bytes):], bytes)
	return addr, nil
}

// MustAddress is AddressFromString for constants; it panics on bad input.
func MustAddress(s string) Address {
	addr, err := AddressFromString(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// AccountFromString parses the base58 form of an account
func AccountFromString(s string) (AccountID, error) {
	var id AccountID

	raw, err := base58.Decode(strings.TrimSpace(s))
	if err != nil {
		return id, fmt.Errorf("%w: %v", ErrInvalidAccount, err)
	}
	if len(raw) != AddressLength {
		return id, fmt.Errorf("%w: length %d", ErrInvalidAccount, len(raw))
	}

	copy(id[:], raw)
	return id, nil
}

// ParseModuleID parses "0x<address>::<name>"
func ParseModuleID(s string) (ModuleID, error) {
	parts := strings.Split(s, "::")
	if len(parts) != 2 || parts[1] == "" {
		return ModuleID{}, fmt.Errorf("%w: %q", ErrInvalidModuleID, s)
	}

	addr, err := AddressFromString(parts[0])
	if err != nil {
		return ModuleID{}, err
	}
	return NewModuleID(addr, parts[1]), nil
}
