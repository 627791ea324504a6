package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/paddock/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketWorkItems    = []byte("ha_work_items")
	bucketReservations = []byte("reservations")
	bucketCursors      = []byte("allocator_cursors")
)

// openTimeout bounds the wait for another process's file lock
const openTimeout = 2 * time.Second

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "paddock.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketWorkItems,
			bucketReservations,
			bucketCursors,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) put(bucket []byte, key string, v interface{}) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
}

func (s *BoltStore) get(bucket []byte, key string, v interface{}) error {
	return s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s %s: %w", bucket, key, types.ErrNotFound)
		}
		return json.Unmarshal(data, v)
	})
}

func (s *BoltStore) delete(bucket []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

// Work item operations
func (s *BoltStore) SaveWorkItem(item *types.HAWorkItem) error {
	return s.put(bucketWorkItems, item.ID, item)
}

func (s *BoltStore) GetWorkItem(id string) (*types.HAWorkItem, error) {
	var item types.HAWorkItem
	if err := s.get(bucketWorkItems, id, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *BoltStore) ListWorkItems() ([]*types.HAWorkItem, error) {
	var items []*types.HAWorkItem
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkItems)
		return b.ForEach(func(k, v []byte) error {
			var item types.HAWorkItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			items = append(items, &item)
			return nil
		})
	})
	return items, err
}

func (s *BoltStore) ListNonTerminalWorkItems() ([]*types.HAWorkItem, error) {
	items, err := s.ListWorkItems()
	if err != nil {
		return nil, err
	}
	var active []*types.HAWorkItem
	for _, item := range items {
		if !item.Step.IsTerminal() {
			active = append(active, item)
		}
	}
	return active, nil
}

func (s *BoltStore) DeleteWorkItem(id string) error {
	return s.delete(bucketWorkItems, id)
}

// Reservation operations
func (s *BoltStore) SaveReservation(r *types.Reservation) error {
	return s.put(bucketReservations, r.Token, r)
}

func (s *BoltStore) GetReservation(token string) (*types.Reservation, error) {
	var r types.Reservation
	if err := s.get(bucketReservations, token, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *BoltStore) ListReservations() ([]*types.Reservation, error) {
	var reservations []*types.Reservation
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReservations)
		return b.ForEach(func(k, v []byte) error {
			var r types.Reservation
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			reservations = append(reservations, &r)
			return nil
		})
	})
	return reservations, err
}

func (s *BoltStore) DeleteReservation(token string) error {
	return s.delete(bucketReservations, token)
}

// Cursor operations. A missing cursor reads as zero.
func (s *BoltStore) GetCursor(key string) (uint64, error) {
	var value uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCursors).Get([]byte(key))
		if len(data) == 8 {
			value = binary.BigEndian.Uint64(data)
		}
		return nil
	})
	return value, err
}

func (s *BoltStore) SetCursor(key string, value uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, value)
		return tx.Bucket(bucketCursors).Put([]byte(key), buf)
	})
}

func (s *BoltStore) ListCursors() (map[string]uint64, error) {
	cursors := make(map[string]uint64)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCursors).ForEach(func(k, v []byte) error {
			if len(v) == 8 {
				cursors[string(k)] = binary.BigEndian.Uint64(v)
			}
			return nil
		})
	})
	return cursors, err
}
