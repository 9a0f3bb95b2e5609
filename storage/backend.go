// Package storage defines versioned key/value backends for the ledger.
// Every Apply creates a new version; reads are always made at an explicit
// version so readers never observe a partially applied batch.
package storage

import (
	"errors"
)

var (
	// ErrNotFound is returned by Get for absent or deleted keys
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when Apply does not advance the version
	ErrVersionConflict = errors.New("version conflict")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("backend closed")
)

// Op is one write in an atomic batch
type Op struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// Backend is a multi-version key/value store
type Backend interface {
	// Get returns the value of key as of version
	Get(key []byte, version uint64) ([]byte, error)
	// Iterate calls fn for every live key with the given prefix as of
	// version, in ascending key order. Returning an error stops iteration.
	Iterate(prefix []byte, version uint64, fn func(key, value []byte) error) error
	// Apply writes every op at version, atomically. version must be
	// greater than LatestVersion.
	Apply(version uint64, ops []Op) error
	// LatestVersion returns the last applied version, 0 for an empty store
	LatestVersion() (uint64, error)
	// Close releases the backend
	Close() error
}

// Dedup keeps the last op for every key, preserving first-seen order
func Dedup(ops []Op) []Op {
	index := make(map[string]int, len(ops))
	out := make([]Op, 0, len(ops))
	for _, op := range ops {
		if i, ok := index[string(op.Key)]; ok {
			out[i] = op
			continue
		}
		index[string(op.Key)] = len(out)
		out = append(out, op)
	}
	return out
}

// PrefixRange returns key range that corresponds to the given prefix.
// It returns start (inclusive) and end (exclusive) keys for iteration.
func PrefixRange(prefix []byte) ([]byte, []byte) {
	if len(prefix) == 0 {
		return nil, nil
	}

	// Make a copy of the prefix to avoid modifying the original
	end := make([]byte, len(prefix))
	copy(end, prefix)

	// Increment the last byte in the prefix to get the end key
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return prefix, end[:i+1]
		}

		// If we've reached the beginning and all bytes are 0xff,
		// then there is no upper bound
		if i == 0 {
			return prefix, nil
		}
	}

	return prefix, end
}
