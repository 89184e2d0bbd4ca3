package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"rampq/internal/ramp"
)

const (
	BucketRuns = "runs"

	// Keep at most this many runs; older ones are pruned on save.
	maxHistory = 100
)

// HistoryItem is one persisted ramp run.
type HistoryItem struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Strategy  string      `json:"strategy"`
	Report    ramp.Report `json:"report"`
}

// Store keeps past run reports in a bbolt file under the user's home.
type Store struct {
	db       *bbolt.DB
	filePath string
}

func NewStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return Open(filepath.Join(home, ".rampq", "history.db"))
}

// Open opens (or creates) a store at an explicit path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	// Initialize Buckets
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(BucketRuns))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:       db,
		filePath: path,
	}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save persists one run and prunes history beyond the cap. Keys sort by
// timestamp so a cursor walk yields chronological order.
func (s *Store) Save(item HistoryItem) error {
	if item.ID == "" {
		return fmt.Errorf("history item requires an ID")
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketRuns))

		key := []byte(fmt.Sprintf("%020d_%s", item.Timestamp.UnixNano(), item.ID))
		data, err := json.Marshal(item)
		if err != nil {
			return err
		}
		if err := b.Put(key, data); err != nil {
			return err
		}

		// Prune oldest entries past the cap.
		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for i := 0; len(keys)-i > maxHistory; i++ {
			if err := b.Delete(keys[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// List returns all stored runs, newest first.
func (s *Store) List() []HistoryItem {
	var items []HistoryItem

	s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketRuns))
		c := b.Cursor()

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var item HistoryItem
			if err := json.Unmarshal(v, &item); err == nil {
				items = append(items, item)
			}
		}
		return nil
	})

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Timestamp.After(items[j].Timestamp)
	})
	return items
}

// Get returns one run by its ID. A unique ID prefix is accepted too, so
// the short IDs shown in listings resolve back to their run.
func (s *Store) Get(id string) (*HistoryItem, error) {
	if id == "" {
		return nil, fmt.Errorf("run id required")
	}

	var matches []HistoryItem
	s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(BucketRuns))
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var h HistoryItem
			if err := json.Unmarshal(v, &h); err != nil {
				continue
			}
			if h.ID == id {
				matches = []HistoryItem{h}
				return nil
			}
			if strings.HasPrefix(h.ID, id) {
				matches = append(matches, h)
			}
		}
		return nil
	})

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("run %s not found", id)
	case 1:
		return &matches[0], nil
	default:
		return nil, fmt.Errorf("run id %s is ambiguous (%d matches)", id, len(matches))
	}
}
