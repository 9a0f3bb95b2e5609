// Package sqlite provides a storage.Backend on SQLite through GORM.
// Every write is a new row keyed by (key, version); deletes are tombstones.
package sqlite

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/govm-net/mvm/storage"
)

const (
	defaultDBPath = "./mvm.db"
	latestName    = "latest"
)

// DBEntry represents one version of one key
type DBEntry struct {
	Key     []byte `gorm:"column:state_key;primaryKey;type:blob"`
	Version uint64 `gorm:"column:version;primaryKey;autoIncrement:false"`
	Value   []byte `gorm:"column:value;type:blob"`
	Deleted bool   `gorm:"column:deleted;not null;default:false"`
}

// TableName specifies the table name for DBEntry
func (DBEntry) TableName() string {
	return "state_entries"
}

// DBMeta stores backend bookkeeping such as the latest version
type DBMeta struct {
	Name  string `gorm:"column:name;primaryKey;size:32"`
	Value uint64 `gorm:"column:value;not null"`
}

// TableName specifies the table name for DBMeta
func (DBMeta) TableName() string {
	return "state_meta"
}

// Store implements storage.Backend using SQLite with GORM
type Store struct {
	db     *gorm.DB
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

var _ storage.Backend = (*Store)(nil)

func init() {
	if err := storage.Register(storage.SQLiteBackendType, NewFromParams); err != nil {
		panic(err)
	}
}

// NewFromParams builds a store from registry parameters: "path" (string,
// ":memory:" allowed) and "logger" (*zap.Logger).
func NewFromParams(params map[string]any) (storage.Backend, error) {
	dbPath := defaultDBPath
	if path, ok := params["path"].(string); ok && path != "" {
		dbPath = path
	}
	var logger *zap.Logger
	if l, ok := params["logger"].(*zap.Logger); ok {
		logger = l
	}
	return New(dbPath, logger)
}

// New opens (or creates) the database at dbPath
func New(dbPath string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("sqlite")

	if dbPath != ":memory:" {
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dbPath == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&DBEntry{}, &DBMeta{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info("sqlite store opened", zap.String("path", dbPath))
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) conn() (*gorm.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	return s.db, nil
}

// Get implements storage.Backend
func (s *Store) Get(key []byte, version uint64) ([]byte, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var rows []DBEntry
	result := db.Where("state_key = ? AND version <= ?", key, version).
		Order("version desc").
		Limit(1).
		Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	if len(rows) == 0 || rows[0].Deleted {
		return nil, storage.ErrNotFound
	}
	return rows[0].Value, nil
}

// Iterate implements storage.Backend
func (s *Store) Iterate(prefix []byte, version uint64, fn func(key, value []byte) error) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	query := db.Where("version <= ?", version)
	start, end := storage.PrefixRange(prefix)
	if start != nil {
		query = query.Where("state_key >= ?", start)
	}
	if end != nil {
		query = query.Where("state_key < ?", end)
	}

	var rows []DBEntry
	if err := query.Order("state_key asc").Order("version desc").Find(&rows).Error; err != nil {
		return err
	}

	var prev []byte
	for i, row := range rows {
		// rows of one key are ordered newest first, only the first counts
		if i > 0 && bytes.Equal(prev, row.Key) {
			continue
		}
		prev = row.Key
		if row.Deleted {
			continue
		}
		if err := fn(row.Key, row.Value); err != nil {
			return err
		}
	}
	return nil
}

// Apply implements storage.Backend
func (s *Store) Apply(version uint64, ops []storage.Op) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	return db.Transaction(func(tx *gorm.DB) error {
		latest, err := latestVersion(tx)
		if err != nil {
			return err
		}
		if version <= latest {
			return fmt.Errorf("%w: apply %d, latest %d", storage.ErrVersionConflict, version, latest)
		}

		ops = storage.Dedup(ops)
		entries := make([]DBEntry, 0, len(ops))
		for _, op := range ops {
			entry := DBEntry{Key: op.Key, Version: version, Deleted: op.Delete}
			if !op.Delete {
				entry.Value = op.Value
				if entry.Value == nil {
					entry.Value = []byte{}
				}
			}
			entries = append(entries, entry)
		}
		if len(entries) > 0 {
			if err := tx.CreateInBatches(entries, 100).Error; err != nil {
				return fmt.Errorf("failed to write entries: %w", err)
			}
		}

		meta := DBMeta{Name: latestName, Value: version}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&meta).Error
	})
}

func latestVersion(db *gorm.DB) (uint64, error) {
	var meta DBMeta
	result := db.Where("name = ?", latestName).First(&meta)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if result.Error != nil {
		return 0, result.Error
	}
	return meta.Value, nil
}

// LatestVersion implements storage.Backend
func (s *Store) LatestVersion() (uint64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	return latestVersion(db)
}

// Close implements storage.Backend
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
