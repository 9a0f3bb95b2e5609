package state

import (
	"encoding/binary"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/govm-net/mvm/core"
)

// Key prefixes of the ledger key space
const (
	modulePrefix    byte = 'm'
	resourcePrefix  byte = 'r'
	balancePrefix   byte = 'a'
	dependentPrefix byte = 'd'
	blockPrefix     byte = 'b'
)

// ModuleKey generates the key of a module record.
// Format: 'm' + address + name
func ModuleKey(id core.ModuleID) []byte {
	key := make([]byte, 0, 1+core.AddressLength+len(id.Name))
	key = append(key, modulePrefix)
	key = append(key, id.Address[:]...)
	return append(key, id.Name...)
}

// ModulesOf generates the prefix of every module owned by addr.
// Format: 'm' + address
func ModulesOf(addr core.Address) []byte {
	return append([]byte{modulePrefix}, addr[:]...)
}

// ResourceKey generates the key of a resource.
// Format: 'r' + address + type tag
func ResourceKey(addr core.Address, tag core.TypeTag) []byte {
	key := make([]byte, 0, 1+core.AddressLength+len(tag))
	key = append(key, resourcePrefix)
	key = append(key, addr[:]...)
	return append(key, tag...)
}

// BalanceKey generates the key of an account balance.
// Format: 'a' + account
func BalanceKey(acct core.AccountID) []byte {
	return append([]byte{balancePrefix}, acct[:]...)
}

// DependentsOf generates the prefix of the reverse dependency index of id.
// Format: 'd' + address + uint16 name length + name
func DependentsOf(id core.ModuleID) []byte {
	key := make([]byte, 0, 1+core.AddressLength+2+len(id.Name))
	key = append(key, dependentPrefix)
	key = append(key, id.Address[:]...)
	key = binary.BigEndian.AppendUint16(key, uint16(len(id.Name)))
	return append(key, id.Name...)
}

// DependentKey records that dependent links against dep.
// Format: DependentsOf(dep) + dependent address + dependent name
func DependentKey(dep, dependent core.ModuleID) []byte {
	key := DependentsOf(dep)
	key = append(key, dependent.Address[:]...)
	return append(key, dependent.Name...)
}

// BlockKey generates the key of the block index entry.
// Format: 'b' + block id
func BlockKey(ref ids.ID) []byte {
	return append([]byte{blockPrefix}, ref[:]...)
}

// ExtractModuleName extracts the module name from a module key
func ExtractModuleName(key []byte) string {
	if len(key) < 1+core.AddressLength {
		return ""
	}
	return string(key[1+core.AddressLength:])
}

// ExtractDependent extracts the dependent module from a dependent key
func ExtractDependent(prefixLen int, key []byte) (core.ModuleID, bool) {
	if len(key) < prefixLen+core.AddressLength {
		return core.ModuleID{}, false
	}
	var addr core.Address
	copy(addr[:], key[prefixLen:prefixLen+core.AddressLength])
	return core.NewModuleID(addr, string(key[prefixLen+core.AddressLength:])), true
}

func encodeUint64(v uint64) []byte {
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, v)
	return raw
}

func decodeUint64(raw []byte) (uint64, bool) {
	if len(raw) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(raw), true
}
