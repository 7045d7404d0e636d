package store

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

// PutKey inserts a freshly minted capability key, indexing it by both id and
// key hash.
func (s *Store) PutKey(k *CapabilityKey) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(k)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketKeys).Put([]byte(k.ID), data); err != nil {
			return err
		}
		return tx.Bucket(bucketKeysByHash).Put([]byte(k.KeyHash), []byte(k.ID))
	})
}

// GetKeyByHash resolves a capability key by the hash of its plaintext.
func (s *Store) GetKeyByHash(hash string) (*CapabilityKey, error) {
	var k CapabilityKey
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketKeysByHash).Get([]byte(hash))
		if id == nil {
			return &ErrNotFound{Entity: "key"}
		}
		data := tx.Bucket(bucketKeys).Get(id)
		if data == nil {
			return &ErrNotFound{Entity: "key"}
		}
		return json.Unmarshal(data, &k)
	})
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// GetKeyByID looks up a capability key by its id.
func (s *Store) GetKeyByID(id string) (*CapabilityKey, error) {
	var k CapabilityKey
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketKeys).Get([]byte(id))
		if data == nil {
			return &ErrNotFound{Entity: "key"}
		}
		return json.Unmarshal(data, &k)
	})
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// ListKeysForWorkspace returns every key minted for a workspace, optionally
// including revoked ones.
func (s *Store) ListKeysForWorkspace(workspaceID string, includeRevoked bool) ([]*CapabilityKey, error) {
	var out []*CapabilityKey
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketKeys).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec CapabilityKey
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.WorkspaceID != workspaceID {
				continue
			}
			if rec.RevokedAt != nil && !includeRevoked {
				continue
			}
			out = append(out, &rec)
		}
		return nil
	})
	return out, err
}

// RevokeKey sets revokedAt on a key.
func (s *Store) RevokeKey(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKeys)
		data := b.Get([]byte(id))
		if data == nil {
			return &ErrNotFound{Entity: "key"}
		}
		var k CapabilityKey
		if err := json.Unmarshal(data, &k); err != nil {
			return err
		}
		if k.RevokedAt == nil {
			now := time.Now().UTC()
			k.RevokedAt = &now
		}
		out, err := json.Marshal(&k)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), out)
	})
}

// RevokeKeysScopedToFile revokes every active key scoped to exactly path,
// used by the file-scoped rotate operation.
func (s *Store) RevokeKeysScopedToFile(workspaceID, path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKeys)
		c := b.Cursor()
		now := time.Now().UTC()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec CapabilityKey
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.WorkspaceID != workspaceID || rec.ScopeType != ScopeFile || rec.ScopePath != path {
				continue
			}
			if rec.RevokedAt != nil {
				continue
			}
			rec.RevokedAt = &now
			out, err := json.Marshal(&rec)
			if err != nil {
				return err
			}
			if err := b.Put(k, out); err != nil {
				return err
			}
		}
		return nil
	})
}
