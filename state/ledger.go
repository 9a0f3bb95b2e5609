// Package state adapts a versioned key/value backend into the module and
// resource addressable store the VM works on. Reads go through a ReadHandle
// pinned to one version; writes are staged in an EffectSet and land in a
// single atomic commit.
package state

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ava-labs/avalanchego/cache"
	"github.com/ava-labs/avalanchego/ids"
	"go.uber.org/zap"

	"github.com/govm-net/mvm/storage"
)

const blockCacheSize = 1024

var (
	// ErrStorage wraps every failure of the underlying backend
	ErrStorage = errors.New("storage failure")
	// ErrUnknownBlock is returned for block references that were never finalized
	ErrUnknownBlock = errors.New("unknown block")
	// ErrStaleEffectSet is returned when committing on top of an outdated version
	ErrStaleEffectSet = errors.New("effect set based on stale state")
	// ErrFutureVersion is returned for reads past the latest version
	ErrFutureVersion = errors.New("version not committed yet")
)

// Ledger is the ledger state adapter. Commits are serialized; readers pin
// a version and never block on writers.
type Ledger struct {
	backend storage.Backend
	logger  *zap.Logger

	mu      sync.Mutex
	version atomic.Uint64
	blocks  cache.Cacher
}

// New wraps a backend
func New(backend storage.Backend, logger *zap.Logger) (*Ledger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	latest, err := backend.LatestVersion()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	l := &Ledger{
		backend: backend,
		logger:  logger.Named("ledger"),
		blocks:  &cache.LRU{Size: blockCacheSize},
	}
	l.version.Store(latest)
	return l, nil
}

// Version returns the latest committed version
func (l *Ledger) Version() uint64 {
	return l.version.Load()
}

// Latest returns a handle on the latest committed state
func (l *Ledger) Latest() *ReadHandle {
	return newReadHandle(l.backend, l.version.Load())
}

// At returns a handle on a specific committed version
func (l *Ledger) At(version uint64) (*ReadHandle, error) {
	if version > l.version.Load() {
		return nil, fmt.Errorf("%w: %d", ErrFutureVersion, version)
	}
	return newReadHandle(l.backend, version), nil
}

// Snapshot returns a read-only handle on the state recorded for a finalized
// block. ids.Empty selects the latest state.
func (l *Ledger) Snapshot(ref ids.ID) (*ReadHandle, error) {
	if ref == ids.Empty {
		return l.Latest(), nil
	}

	if v, ok := l.blocks.Get(ref); ok {
		return newReadHandle(l.backend, v.(uint64)), nil
	}

	raw, ok, err := l.Latest().get(BlockKey(ref))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBlock, ref)
	}
	version, ok := decodeUint64(raw)
	if !ok {
		return nil, fmt.Errorf("%w: corrupt block index for %s", ErrStorage, ref)
	}

	l.blocks.Put(ref, version)
	return newReadHandle(l.backend, version), nil
}

// FinalizeBlock records that the current state is the state of block ref
func (l *Ledger) FinalizeBlock(ref ids.ID, height uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.version.Load()
	next := current + 1
	ops := []storage.Op{{Key: BlockKey(ref), Value: encodeUint64(current)}}
	if err := l.backend.Apply(next, ops); err != nil {
		return fmt.Errorf("%w: finalize block %s: %v", ErrStorage, ref, err)
	}
	l.version.Store(next)
	l.blocks.Put(ref, current)

	l.logger.Debug("block finalized", zap.Stringer("block", ref), zap.Uint64("height", height), zap.Uint64("version", current))
	return nil
}

// Begin starts an EffectSet on top of base; nil means the latest state
func (l *Ledger) Begin(base *ReadHandle) *EffectSet {
	if base == nil {
		base = l.Latest()
	}
	return newEffectSet(l, base)
}

// Commit applies every staged write of es as one new version. Either all
// of them become visible or none does.
func (l *Ledger) Commit(es *EffectSet) error {
	if es.ledger != l {
		return fmt.Errorf("effect set belongs to another ledger")
	}
	if err := es.Stage(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.version.Load()
	if es.base.version != current {
		es.Discard()
		return fmt.Errorf("%w: based on %d, latest %d", ErrStaleEffectSet, es.base.version, current)
	}

	ops := es.Ops()
	next := current + 1
	if err := l.backend.Apply(next, ops); err != nil {
		es.Discard()
		return fmt.Errorf("%w: commit version %d: %v", ErrStorage, next, err)
	}
	l.version.Store(next)
	es.markCommitted()

	l.logger.Debug("effect set committed", zap.Uint64("version", next), zap.Int("writes", len(ops)))
	return nil
}

// Close closes the backend
func (l *Ledger) Close() error {
	return l.backend.Close()
}

// ReadHandle is read-only access to one committed version
type ReadHandle struct {
	view
	backend storage.Backend
	version uint64
}

var _ Reader = (*ReadHandle)(nil)

func newReadHandle(backend storage.Backend, version uint64) *ReadHandle {
	h := &ReadHandle{backend: backend, version: version}
	h.view = view{kv: h}
	return h
}

// Version returns the pinned version
func (h *ReadHandle) Version() uint64 {
	return h.version
}

func (h *ReadHandle) get(key []byte) ([]byte, bool, error) {
	v, err := h.backend.Get(key, h.version)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return v, true, nil
}

func (h *ReadHandle) scan(prefix []byte, fn func(key, value []byte) error) error {
	var fnErr error
	err := h.backend.Iterate(prefix, h.version, func(key, value []byte) error {
		fnErr = fn(key, value)
		return fnErr
	})
	if err != nil && fnErr == nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return err
}
