// Package journal keeps a durable audit trail of transfer results.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"dstransfer/pkg/types"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("journal entry not found")

const (
	resultPrefix = "result:"
	idPrefix     = "id:"
)

// Journal stores TransferResults in BadgerDB, ordered by completion time.
type Journal struct {
	db     *badger.DB
	logger *zap.Logger
}

// Open opens (or creates) a journal in dir.
func Open(dir string, logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	return open(badger.DefaultOptions(filepath.Clean(dir)), logger)
}

// OpenInMemory opens a journal that is discarded on Close.
func OpenInMemory(logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return open(badger.DefaultOptions("").WithInMemory(true), logger)
}

func open(opts badger.Options, logger *zap.Logger) (*Journal, error) {
	opts = opts.WithLogger(badgerLogger{logger.Named("badger").Sugar()}).WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return &Journal{db: db, logger: logger}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// resultKey sorts by completion time; the id breaks ties.
func resultKey(r *types.TransferResult) []byte {
	return []byte(fmt.Sprintf("%s%016x:%s", resultPrefix, r.CompletedAt.UnixNano(), r.ID))
}

// Record implements types.Recorder.
func (j *Journal) Record(r *types.TransferResult) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("result has no id")
	}
	val, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode result %s: %w", r.ID, err)
	}
	key := resultKey(r)

	err = j.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, val); err != nil {
			return err
		}
		return txn.Set([]byte(idPrefix+r.ID), key)
	})
	if err != nil {
		return fmt.Errorf("failed to record result %s: %w", r.ID, err)
	}

	j.logger.Debug("Result recorded", zap.String("id", r.ID), zap.String("outcome", string(r.Outcome)))
	return nil
}

// Get returns the result with the given id.
func (j *Journal) Get(id string) (*types.TransferResult, error) {
	var r types.TransferResult
	err := j.db.View(func(txn *badger.Txn) error {
		idx, err := txn.Get([]byte(idPrefix + id))
		if err != nil {
			return err
		}
		key, err := idx.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &r)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read result %s: %w", id, err)
	}
	return &r, nil
}

// Filter selects results in List. Zero values match everything.
type Filter struct {
	Limit     int
	Outcome   types.Outcome
	Direction types.Direction
	PID       types.PID
}

func (f Filter) match(r *types.TransferResult) bool {
	if f.Outcome != "" && r.Outcome != f.Outcome {
		return false
	}
	if f.Direction != "" && r.Direction != f.Direction {
		return false
	}
	if f.PID != "" && r.Address.PID != f.PID {
		return false
	}
	return true
}

// List returns matching results, newest first.
func (j *Journal) List(f Filter) ([]*types.TransferResult, error) {
	var results []*types.TransferResult
	prefix := []byte(resultPrefix)

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts at the largest key <= seek.
		for it.Seek(append(append([]byte{}, prefix...), 0xff)); it.ValidForPrefix(prefix); it.Next() {
			var r types.TransferResult
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return err
			}
			if !f.match(&r) {
				continue
			}
			results = append(results, &r)
			if f.Limit > 0 && len(results) >= f.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	return results, nil
}

// Summary counts results per outcome.
func (j *Journal) Summary() (map[types.Outcome]int, error) {
	results, err := j.List(Filter{})
	if err != nil {
		return nil, err
	}
	counts := make(map[types.Outcome]int)
	for _, r := range results {
		counts[r.Outcome]++
	}
	return counts, nil
}

type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.Warnf(format, args...)
}
