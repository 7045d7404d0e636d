// Package store implements the transactional storage layer (C3): embedded
// bbolt persistence for workspaces, files, appends, capability keys,
// webhooks, webhook deliveries, and idempotency records.
//
// bbolt serializes all write transactions process-wide, which gives the
// per-file gap-free append counter and linearizable claim acquisition §5
// requires without any explicit row-locking: every Update call already runs
// with exclusive write access to the whole database.
package store

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketWorkspaces  = []byte("workspaces")
	bucketKeys        = []byte("keys")
	bucketKeysByHash  = []byte("keys_by_hash")
	bucketFiles       = []byte("files")
	bucketFilesByID   = []byte("files_by_id")
	bucketAppends     = []byte("appends")
	bucketWebhooks    = []byte("webhooks")
	bucketDeliveries  = []byte("webhook_deliveries")
	bucketIdempotency = []byte("idempotency")
)

var rootBuckets = [][]byte{
	bucketWorkspaces, bucketKeys, bucketKeysByHash, bucketFiles, bucketFilesByID,
	bucketAppends, bucketWebhooks, bucketDeliveries, bucketIdempotency,
}

// Store wraps a single bbolt database holding all entity buckets.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the bbolt database at path and ensures every root
// bucket exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range rootBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// fileKey builds the composite key (workspaceId, path) used in bucketFiles.
func fileKey(workspaceID, path string) []byte {
	return []byte(workspaceID + "\x00" + path)
}

// deliveryKey builds the composite key (webhookId, deliveryId).
func deliveryKey(webhookID, deliveryID string) []byte {
	return []byte(webhookID + "\x00" + deliveryID)
}

// idempotencyKey builds the composite key (workspaceId, route, key).
func idempotencyKey(workspaceID, route, key string) []byte {
	return []byte(workspaceID + "\x00" + route + "\x00" + key)
}

// ComputeETag returns a stable 16-hex-digit digest of content. Collision is
// not security-relevant here; it governs optimistic concurrency only (§9).
func ComputeETag(content string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(content))
}

// ErrNotFound is returned by lookups that find no matching row.
type ErrNotFound struct{ Entity string }

func (e *ErrNotFound) Error() string { return e.Entity + " not found" }

// ErrConflict is returned when a unique-index invariant would be violated.
type ErrConflict struct{ Reason string }

func (e *ErrConflict) Error() string { return e.Reason }
