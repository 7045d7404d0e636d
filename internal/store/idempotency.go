package store

import (
	"encoding/json"

	bolt "go.etcd.io/bbolt"
)

// GetIdempotency looks up a previously stored response snapshot for
// (workspaceId, route, key).
func (s *Store) GetIdempotency(workspaceID, route, key string) (*IdempotencyRecord, error) {
	var rec IdempotencyRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketIdempotency).Get(idempotencyKey(workspaceID, route, key))
		if data == nil {
			return &ErrNotFound{Entity: "idempotency record"}
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// PutIdempotency writes a response snapshot once. Callers must only call
// this after confirming no existing record, or after verifying the digest
// matches the one on file to avoid clobbering a replay.
func (s *Store) PutIdempotency(rec *IdempotencyRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketIdempotency).Put(idempotencyKey(rec.WorkspaceID, rec.Route, rec.Key), data)
	})
}
