package state

import (
	"fmt"
	"sort"

	"github.com/govm-net/mvm/core"
	"github.com/govm-net/mvm/types"
)

// Reader is read access to ledger state. It is implemented by ReadHandle
// (committed state) and EffectSet (committed state plus staged writes).
type Reader interface {
	ReadModule(id core.ModuleID) (*types.ModuleRecord, bool, error)
	ReadResource(addr core.Address, tag core.TypeTag) ([]byte, bool, error)
	Balance(acct core.AccountID) (uint64, error)
	ModulesAt(addr core.Address) ([]*types.ModuleRecord, error)
	Dependents(id core.ModuleID) ([]core.ModuleID, error)
}

// kv is the raw key/value access both readers are built on
type kv interface {
	get(key []byte) ([]byte, bool, error)
	scan(prefix []byte, fn func(key, value []byte) error) error
}

// view implements Reader on top of a kv
type view struct {
	kv kv
}

// ReadModule returns the module stored at id
func (v view) ReadModule(id core.ModuleID) (*types.ModuleRecord, bool, error) {
	raw, ok, err := v.kv.get(ModuleKey(id))
	if err != nil || !ok {
		return nil, false, err
	}
	rec, err := types.DecodeRecord(raw)
	if err != nil {
		return nil, false, fmt.Errorf("%w: module %s: %v", ErrStorage, id, err)
	}
	return rec, true, nil
}

// ReadResource returns the resource of type tag owned by addr
func (v view) ReadResource(addr core.Address, tag core.TypeTag) ([]byte, bool, error) {
	return v.kv.get(ResourceKey(addr, tag))
}

// Balance returns the balance of acct, zero when never funded
func (v view) Balance(acct core.AccountID) (uint64, error) {
	raw, ok, err := v.kv.get(BalanceKey(acct))
	if err != nil || !ok {
		return 0, err
	}
	amount, ok := decodeUint64(raw)
	if !ok {
		return 0, fmt.Errorf("%w: corrupt balance of %s", ErrStorage, acct)
	}
	return amount, nil
}

// ModulesAt lists every module owned by addr, ordered by name
func (v view) ModulesAt(addr core.Address) ([]*types.ModuleRecord, error) {
	var records []*types.ModuleRecord
	err := v.kv.scan(ModulesOf(addr), func(key, value []byte) error {
		rec, err := types.DecodeRecord(value)
		if err != nil {
			return fmt.Errorf("%w: module %s: %v", ErrStorage, ExtractModuleName(key), err)
		}
		records = append(records, rec)
		return nil
	})
	return records, err
}

// Dependents lists the modules that recorded a dependency on id
func (v view) Dependents(id core.ModuleID) ([]core.ModuleID, error) {
	prefix := DependentsOf(id)
	var out []core.ModuleID
	err := v.kv.scan(prefix, func(key, _ []byte) error {
		if dep, ok := ExtractDependent(len(prefix), key); ok {
			out = append(out, dep)
		}
		return nil
	})
	return out, err
}

// sortedKeys returns map keys in ascending byte order
func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
