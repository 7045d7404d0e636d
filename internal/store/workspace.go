package store

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

// CreateWorkspace inserts a new, unclaimed workspace row.
func (s *Store) CreateWorkspace(ws *Workspace) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkspaces)
		data, err := json.Marshal(ws)
		if err != nil {
			return err
		}
		return b.Put([]byte(ws.ID), data)
	})
}

// GetWorkspace looks up a workspace by id.
func (s *Store) GetWorkspace(id string) (*Workspace, error) {
	var ws Workspace
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketWorkspaces).Get([]byte(id))
		if data == nil {
			return &ErrNotFound{Entity: "workspace"}
		}
		return json.Unmarshal(data, &ws)
	})
	if err != nil {
		return nil, err
	}
	return &ws, nil
}

// UpdateWorkspaceSettings overwrites a workspace's default settings.
func (s *Store) UpdateWorkspaceSettings(id string, settings FileSettings) (*Workspace, error) {
	var ws Workspace
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkspaces)
		data := b.Get([]byte(id))
		if data == nil {
			return &ErrNotFound{Entity: "workspace"}
		}
		if err := json.Unmarshal(data, &ws); err != nil {
			return err
		}
		ws.Settings = settings
		out, err := json.Marshal(&ws)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), out)
	})
	if err != nil {
		return nil, err
	}
	return &ws, nil
}

// ClaimWorkspace transitions an unclaimed workspace to claimed, failing with
// ErrConflict if it is already claimed. The caller has already authenticated
// the session and resolved the write key to this workspace.
func (s *Store) ClaimWorkspace(id, claimedByEmail string) (*Workspace, error) {
	var ws Workspace
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkspaces)
		data := b.Get([]byte(id))
		if data == nil {
			return &ErrNotFound{Entity: "workspace"}
		}
		if err := json.Unmarshal(data, &ws); err != nil {
			return err
		}
		if ws.ClaimedAt != nil {
			return &ErrConflict{Reason: "workspace already claimed"}
		}
		now := time.Now().UTC()
		ws.ClaimedAt = &now
		ws.ClaimedByEmail = claimedByEmail
		out, err := json.Marshal(&ws)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), out)
	})
	if err != nil {
		return nil, err
	}
	return &ws, nil
}
