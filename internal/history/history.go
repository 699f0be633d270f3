// Package history persists a summary of every finished transfer in BadgerDB.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const recordPrefix = "transfer:"

var ErrNotFound = errors.New("history: record not found")

// CompletionRecord summarizes one finished transfer.
type CompletionRecord struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Method     string    `json:"method"`
	Status     int       `json:"status"`
	Code       int       `json:"code"`
	Error      string    `json:"error,omitempty"`
	Uploaded   int64     `json:"uploaded"`
	Downloaded int64     `json:"downloaded"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (r CompletionRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r CompletionRecord) Succeeded() bool {
	return r.Code == 0
}

// Store wraps BadgerDB for completion records.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) a BadgerDB at the given path.
func Open(dbPath string) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(dbPath).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a store that lives only as long as the process.
func OpenInMemory() (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory BadgerDB: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores rec, assigning an id when it has none, and returns the id.
func (s *Store) Put(rec CompletionRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(recordPrefix+rec.ID), val)
	})
	if err != nil {
		return "", fmt.Errorf("failed to store record %s: %w", rec.ID, err)
	}
	return rec.ID, nil
}

// Get retrieves a record by id.
func (s *Store) Get(id string) (CompletionRecord, error) {
	var rec CompletionRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(recordPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	return rec, err
}

// List returns up to limit records, most recently finished first. A limit
// of zero or less returns everything.
func (s *Store) List(limit int) ([]CompletionRecord, error) {
	var out []CompletionRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec CompletionRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].FinishedAt.After(out[j].FinishedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete removes a record. Deleting an unknown id is not an error.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(recordPrefix + id))
	})
}
