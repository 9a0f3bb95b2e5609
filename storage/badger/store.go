// Package badger 提供基于BadgerDB的多版本存储实现
package badger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"

	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"

	"github.com/govm-net/mvm/storage"
)

// latestKey sits outside the ledger key space, which only uses letter prefixes
var latestKey = []byte("\x00meta/latest")

// Config configures a badger backend
type Config struct {
	Dir      string
	InMemory bool
	Logger   *zap.Logger
}

// Store is a storage.Backend on badger's managed mode: the commit
// timestamp of every batch is the ledger version, so a read transaction at
// version v sees exactly the state after batch v.
type Store struct {
	db     *badgerdb.DB
	logger *zap.Logger

	mu     sync.Mutex
	latest atomic.Uint64
	closed atomic.Bool
}

var _ storage.Backend = (*Store)(nil)

func init() {
	if err := storage.Register(storage.BadgerBackendType, NewFromParams); err != nil {
		panic(err)
	}
}

// NewFromParams builds a store from registry parameters: "path" (string),
// "in_memory" (bool) and "logger" (*zap.Logger).
func NewFromParams(params map[string]any) (storage.Backend, error) {
	cfg := Config{}
	if path, ok := params["path"].(string); ok {
		cfg.Dir = path
	}
	if mem, ok := params["in_memory"].(bool); ok {
		cfg.InMemory = mem
	}
	if l, ok := params["logger"].(*zap.Logger); ok {
		cfg.Logger = l
	}
	return New(cfg)
}

// New opens a badger store
func New(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("badger")

	var opts badgerdb.Options
	if cfg.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, fmt.Errorf("badger: data directory is empty")
		}
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create badger directory: %w", err)
		}
		opts = badgerdb.DefaultOptions(cfg.Dir)
	}
	opts = opts.
		WithNumVersionsToKeep(math.MaxInt32).
		WithLogger(newBadgerLogger(logger))

	db, err := badgerdb.OpenManaged(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	s := &Store{db: db, logger: logger}
	latest, err := s.readLatest()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.latest.Store(latest)

	logger.Info("badger store opened", zap.String("dir", cfg.Dir), zap.Bool("in_memory", cfg.InMemory), zap.Uint64("version", latest))
	return s, nil
}

func (s *Store) readLatest() (uint64, error) {
	txn := s.db.NewTransactionAt(math.MaxUint64, false)
	defer txn.Discard()

	item, err := txn.Get(latestKey)
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read latest version: %w", err)
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("corrupt latest version entry")
	}
	return binary.BigEndian.Uint64(raw), nil
}

// Get implements storage.Backend
func (s *Store) Get(key []byte, version uint64) ([]byte, error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}

	txn := s.db.NewTransactionAt(version, false)
	defer txn.Discard()

	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	// 复制值
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to copy value: %w", err)
	}
	return val, nil
}

// Iterate implements storage.Backend
func (s *Store) Iterate(prefix []byte, version uint64, fn func(key, value []byte) error) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}

	txn := s.db.NewTransactionAt(version, false)
	defer txn.Discard()

	opts := badgerdb.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		if len(prefix) == 0 && item.Key()[0] == 0x00 {
			continue
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(item.KeyCopy(nil), val); err != nil {
			return err
		}
	}
	return nil
}

// Apply implements storage.Backend
func (s *Store) Apply(version uint64, ops []storage.Op) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	latest := s.latest.Load()
	if version <= latest {
		return fmt.Errorf("%w: apply %d, latest %d", storage.ErrVersionConflict, version, latest)
	}

	txn := s.db.NewTransactionAt(latest, true)
	defer txn.Discard()

	for _, op := range storage.Dedup(ops) {
		var err error
		if op.Delete {
			err = txn.Delete(op.Key)
		} else {
			err = txn.Set(op.Key, op.Value)
		}
		if err != nil {
			return fmt.Errorf("failed to stage key %x: %w", op.Key, err)
		}
	}

	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, version)
	if err := txn.Set(latestKey, raw); err != nil {
		return err
	}

	if err := txn.CommitAt(version, nil); err != nil {
		return fmt.Errorf("failed to commit version %d: %w", version, err)
	}
	s.latest.Store(version)
	return nil
}

// LatestVersion implements storage.Backend
func (s *Store) LatestVersion() (uint64, error) {
	if s.closed.Load() {
		return 0, storage.ErrClosed
	}
	return s.latest.Load(), nil
}

// Close implements storage.Backend
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// badgerLogger routes badger's internal logs to zap
type badgerLogger struct {
	sugar *zap.SugaredLogger
}

func newBadgerLogger(logger *zap.Logger) *badgerLogger {
	return &badgerLogger{sugar: logger.Sugar()}
}

// Errorf 输出错误日志
func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// Warningf 输出警告日志
func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Infof 输出信息日志
func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Debugf 输出调试日志
func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}
