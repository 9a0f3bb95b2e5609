package state

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/govm-net/mvm/core"
	"github.com/govm-net/mvm/storage"
	"github.com/govm-net/mvm/types"
)

var (
	// ErrEffectSetClosed is returned when writing to a staged, committed or discarded EffectSet
	ErrEffectSetClosed = errors.New("effect set is not active")
	// ErrInsufficientBalance is returned when a debit exceeds the balance
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrBalanceOverflow is returned when a credit would overflow
	ErrBalanceOverflow = errors.New("balance overflow")
)

// EffectState is the lifecycle state of an EffectSet
type EffectState int32

const (
	// EffectActive accepts writes
	EffectActive EffectState = iota
	// EffectStaged is frozen and waiting for commit
	EffectStaged
	// EffectCommitted has been applied
	EffectCommitted
	// EffectDiscarded was dropped without effect
	EffectDiscarded
)

// String implements fmt.Stringer
func (s EffectState) String() string {
	switch s {
	case EffectActive:
		return "active"
	case EffectStaged:
		return "staged"
	case EffectCommitted:
		return "committed"
	default:
		return "discarded"
	}
}

// EffectSet collects the module, resource and balance writes of one
// invocation. Reads see staged writes first and the base handle second.
// Nothing is visible to anyone else until Ledger.Commit.
type EffectSet struct {
	view
	ledger *Ledger
	base   *ReadHandle
	state  EffectState

	writes map[string]storage.Op
	order  []string
}

var _ Reader = (*EffectSet)(nil)

func newEffectSet(l *Ledger, base *ReadHandle) *EffectSet {
	es := &EffectSet{
		ledger: l,
		base:   base,
		writes: make(map[string]storage.Op),
	}
	es.view = view{kv: es}
	return es
}

// Base returns the committed state the set was started on
func (es *EffectSet) Base() *ReadHandle {
	return es.base
}

// State returns the lifecycle state
func (es *EffectSet) State() EffectState {
	return es.state
}

// Len returns the number of staged keys
func (es *EffectSet) Len() int {
	return len(es.order)
}

// Stage freezes the set. Staging twice is a no-op.
func (es *EffectSet) Stage() error {
	switch es.state {
	case EffectActive:
		es.state = EffectStaged
		return nil
	case EffectStaged:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrEffectSetClosed, es.state)
	}
}

// Discard drops every staged write. It is safe to call at any point,
// including after a commit, so callers can always defer it.
func (es *EffectSet) Discard() {
	if es.state == EffectCommitted {
		return
	}
	es.state = EffectDiscarded
	es.writes = nil
	es.order = nil
}

func (es *EffectSet) markCommitted() {
	es.state = EffectCommitted
}

// Ops returns the staged writes in first-write order
func (es *EffectSet) Ops() []storage.Op {
	ops := make([]storage.Op, 0, len(es.order))
	for _, k := range es.order {
		ops = append(ops, es.writes[k])
	}
	return ops
}

func (es *EffectSet) put(op storage.Op) error {
	if es.state != EffectActive {
		return fmt.Errorf("%w: %s", ErrEffectSetClosed, es.state)
	}
	k := string(op.Key)
	if _, ok := es.writes[k]; !ok {
		es.order = append(es.order, k)
	}
	es.writes[k] = op
	return nil
}

func (es *EffectSet) get(key []byte) ([]byte, bool, error) {
	if op, ok := es.writes[string(key)]; ok {
		if op.Delete {
			return nil, false, nil
		}
		return op.Value, true, nil
	}
	return es.base.get(key)
}

func (es *EffectSet) scan(prefix []byte, fn func(key, value []byte) error) error {
	merged := make(map[string][]byte)
	if err := es.base.scan(prefix, func(key, value []byte) error {
		merged[string(key)] = value
		return nil
	}); err != nil {
		return err
	}
	for k, op := range es.writes {
		if !strings.HasPrefix(k, string(prefix)) {
			continue
		}
		if op.Delete {
			delete(merged, k)
		} else {
			merged[k] = op.Value
		}
	}
	for _, k := range sortedKeys(merged) {
		if err := fn([]byte(k), merged[k]); err != nil {
			return err
		}
	}
	return nil
}

// WriteModule stages a module record and keeps the reverse dependency index
// in sync with its dependency list.
func (es *EffectSet) WriteModule(rec *types.ModuleRecord) error {
	id := rec.ID()

	prev, ok, err := es.ReadModule(id)
	if err != nil {
		return err
	}
	if ok {
		for _, dep := range prev.Package.Dependencies {
			if err := es.put(storage.Op{Key: DependentKey(dep, id), Delete: true}); err != nil {
				return err
			}
		}
	}

	raw, err := types.EncodeRecord(rec)
	if err != nil {
		return fmt.Errorf("failed to encode module %s: %w", id, err)
	}
	if err := es.put(storage.Op{Key: ModuleKey(id), Value: raw}); err != nil {
		return err
	}
	for _, dep := range rec.Package.Dependencies {
		if err := es.put(storage.Op{Key: DependentKey(dep, id), Value: []byte{}}); err != nil {
			return err
		}
	}
	return nil
}

// WriteResource stages a resource value
func (es *EffectSet) WriteResource(addr core.Address, tag core.TypeTag, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	return es.put(storage.Op{Key: ResourceKey(addr, tag), Value: v})
}

// DeleteResource stages a resource delete
func (es *EffectSet) DeleteResource(addr core.Address, tag core.TypeTag) error {
	return es.put(storage.Op{Key: ResourceKey(addr, tag), Delete: true})
}

// SetBalance stages an absolute balance
func (es *EffectSet) SetBalance(acct core.AccountID, amount uint64) error {
	return es.put(storage.Op{Key: BalanceKey(acct), Value: encodeUint64(amount)})
}

// Credit adds amount to acct
func (es *EffectSet) Credit(acct core.AccountID, amount uint64) error {
	bal, err := es.Balance(acct)
	if err != nil {
		return err
	}
	if bal > math.MaxUint64-amount {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, acct)
	}
	return es.SetBalance(acct, bal+amount)
}

// Debit removes amount from acct, failing when the balance is too low
func (es *EffectSet) Debit(acct core.AccountID, amount uint64) error {
	bal, err := es.Balance(acct)
	if err != nil {
		return err
	}
	if bal < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientBalance, acct, bal, amount)
	}
	return es.SetBalance(acct, bal-amount)
}

// DebitUpTo removes at most amount from acct and returns what was taken
func (es *EffectSet) DebitUpTo(acct core.AccountID, amount uint64) (uint64, error) {
	bal, err := es.Balance(acct)
	if err != nil {
		return 0, err
	}
	if amount > bal {
		amount = bal
	}
	if amount == 0 {
		return 0, nil
	}
	return amount, es.SetBalance(acct, bal-amount)
}

// Transfer moves amount from one account to another
func (es *EffectSet) Transfer(from, to core.AccountID, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	if err := es.Debit(from, amount); err != nil {
		return err
	}
	return es.Credit(to, amount)
}
