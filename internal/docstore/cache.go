package docstore

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var snapshotBucket = []byte("snapshots")

// CachedSnapshot is the last known document state persisted locally, so an
// agent restarted while the relay is unreachable still has text to work
// from.
type CachedSnapshot struct {
	DocumentID string    `json:"document_id"`
	Text       string    `json:"text"`
	Version    int64     `json:"version"`
	SavedAt    time.Time `json:"saved_at"`
}

// Cache is a bbolt-backed snapshot store keyed by document id.
type Cache struct {
	db *bolt.DB
}

func OpenCache(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(snapshotBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache bucket: %w", err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error { return c.db.Close() }

// Put stores the latest snapshot for a document, stamping the save time.
func (c *Cache) Put(snap CachedSnapshot) error {
	snap.SavedAt = time.Now()
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).Put([]byte(snap.DocumentID), raw)
	})
}

// Get loads the cached snapshot for a document. ok is false when nothing is
// stored under that id.
func (c *Cache) Get(documentID string) (CachedSnapshot, bool, error) {
	var (
		snap  CachedSnapshot
		found bool
	)
	err := c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(snapshotBucket).Get([]byte(documentID))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &snap); err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}
		found = true
		return nil
	})
	return snap, found, err
}

// Delete drops a cached snapshot. Unknown ids are a no-op.
func (c *Cache) Delete(documentID string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(snapshotBucket).Delete([]byte(documentID))
	})
}
