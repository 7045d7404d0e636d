package store

import (
	"encoding/json"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

// PutFileResult reports whether PutFile created a new row or updated one.
type PutFileResult struct {
	File    *File
	Created bool
}

// PutFile creates or updates the file at (workspaceId, path) in one write
// transaction. mutate receives the current row (nil if absent) and returns
// the full File value to store; an error from mutate aborts the write.
// Preconditions such as an If-Match etag check are the caller's, made inside
// mutate.
func (s *Store) PutFile(workspaceID, path string, mutate func(existing *File) (*File, error)) (*PutFileResult, error) {
	var result PutFileResult
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		key := fileKey(workspaceID, path)
		data := b.Get(key)

		var existing *File
		if data != nil {
			var f File
			if err := json.Unmarshal(data, &f); err != nil {
				return err
			}
			existing = &f
		}

		next, err := mutate(existing)
		if err != nil {
			return err
		}

		out, err := json.Marshal(next)
		if err != nil {
			return err
		}
		if err := b.Put(key, out); err != nil {
			return err
		}
		if err := tx.Bucket(bucketFilesByID).Put([]byte(next.ID), key); err != nil {
			return err
		}
		result.File = next
		result.Created = existing == nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetFile looks up a file by (workspaceId, path), including soft-deleted
// rows; callers decide how to treat DeletedAt.
func (s *Store) GetFile(workspaceID, path string) (*File, error) {
	var f File
	err := s.db.View(func(tx *bolt.Tx) error {
		f2, err := GetFileTx(tx, workspaceID, path)
		if err != nil {
			return err
		}
		f = *f2
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// GetFileTx is GetFile against an already-open transaction.
func GetFileTx(tx *bolt.Tx, workspaceID, path string) (*File, error) {
	data := tx.Bucket(bucketFiles).Get(fileKey(workspaceID, path))
	if data == nil {
		return nil, &ErrNotFound{Entity: "file"}
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// GetFileByID looks up a file via the id secondary index.
func (s *Store) GetFileByID(id string) (*File, error) {
	var f File
	err := s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketFilesByID).Get([]byte(id))
		if key == nil {
			return &ErrNotFound{Entity: "file"}
		}
		data := tx.Bucket(bucketFiles).Get(key)
		if data == nil {
			return &ErrNotFound{Entity: "file"}
		}
		return json.Unmarshal(data, &f)
	})
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// SoftDeleteFile marks a file deleted, returning the row as it stood after
// the update.
func (s *Store) SoftDeleteFile(workspaceID, path string, retention time.Duration) (*File, error) {
	res, err := s.PutFile(workspaceID, path, func(existing *File) (*File, error) {
		if existing == nil {
			return nil, &ErrNotFound{Entity: "file"}
		}
		now := time.Now().UTC()
		expires := now.Add(retention)
		cp := *existing
		cp.DeletedAt = &now
		cp.DeleteExpiresAt = &expires
		cp.UpdatedAt = now
		return &cp, nil
	})
	if err != nil {
		return nil, err
	}
	return res.File, nil
}

// RecoverFile lifts a soft-delete, restoring the row to readable state.
func (s *Store) RecoverFile(workspaceID, path string) (*File, error) {
	res, err := s.PutFile(workspaceID, path, func(existing *File) (*File, error) {
		if existing == nil || existing.DeletedAt == nil {
			return nil, &ErrNotFound{Entity: "file"}
		}
		cp := *existing
		cp.DeletedAt = nil
		cp.DeleteExpiresAt = nil
		cp.UpdatedAt = time.Now().UTC()
		return &cp, nil
	})
	if err != nil {
		return nil, err
	}
	return res.File, nil
}

// DeleteFilePermanent removes a file row and every append attached to it.
func (s *Store) DeleteFilePermanent(workspaceID, path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := fileKey(workspaceID, path)
		data := tx.Bucket(bucketFiles).Get(key)
		if data == nil {
			return &ErrNotFound{Entity: "file"}
		}
		var f File
		if err := json.Unmarshal(data, &f); err != nil {
			return err
		}
		if err := tx.Bucket(bucketFiles).Delete(key); err != nil {
			return err
		}
		if err := tx.Bucket(bucketFilesByID).Delete([]byte(f.ID)); err != nil {
			return err
		}
		appends := tx.Bucket(bucketAppends)
		if appends.Bucket([]byte(f.ID)) == nil {
			return nil
		}
		return appends.DeleteBucket([]byte(f.ID))
	})
}

// MoveFile relocates a file from srcPath to dstPath within a workspace,
// failing with ErrConflict if the destination is already occupied by a
// live (non-deleted) file.
func (s *Store) MoveFile(workspaceID, srcPath, dstPath, newFilename string) (*File, error) {
	var moved File
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		srcKey := fileKey(workspaceID, srcPath)
		srcData := b.Get(srcKey)
		if srcData == nil {
			return &ErrNotFound{Entity: "file"}
		}
		var f File
		if err := json.Unmarshal(srcData, &f); err != nil {
			return err
		}
		if f.DeletedAt != nil {
			return &ErrNotFound{Entity: "file"}
		}

		dstKey := fileKey(workspaceID, dstPath)
		if dstData := b.Get(dstKey); dstData != nil {
			var existing File
			if err := json.Unmarshal(dstData, &existing); err == nil && existing.DeletedAt == nil {
				return &ErrConflict{Reason: "destination already exists"}
			}
		}

		f.Path = dstPath
		f.Folder = parentFolder(dstPath)
		if newFilename != "" {
			f.Filename = newFilename
		}
		f.UpdatedAt = time.Now().UTC()

		out, err := json.Marshal(&f)
		if err != nil {
			return err
		}
		if err := b.Delete(srcKey); err != nil {
			return err
		}
		if err := b.Put(dstKey, out); err != nil {
			return err
		}
		if err := tx.Bucket(bucketFilesByID).Put([]byte(f.ID), dstKey); err != nil {
			return err
		}
		moved = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &moved, nil
}

// ListFilesByPrefix returns every file whose path equals prefix or is under
// it (prefix normalized with a trailing slash boundary, "" for root);
// soft-deleted rows are included only when includeDeleted is true. Used for
// folder listing, stats, search, export, and cascade operations.
func (s *Store) ListFilesByPrefix(workspaceID, prefix string, includeDeleted bool) ([]*File, error) {
	var out []*File
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = ListFilesByPrefixTx(tx, workspaceID, prefix, includeDeleted)
		return err
	})
	return out, err
}

// ListFilesByPrefixTx is ListFilesByPrefix against an already-open
// transaction, for callers folding a prefix scan into a larger atomic
// decision (e.g. a WIP-limit scan spanning every file in a key's scope).
func ListFilesByPrefixTx(tx *bolt.Tx, workspaceID, prefix string, includeDeleted bool) ([]*File, error) {
	var out []*File
	boundary := strings.TrimSuffix(prefix, "/")
	c := tx.Bucket(bucketFiles).Cursor()
	ws := []byte(workspaceID + "\x00")
	for k, v := c.Seek(ws); k != nil && strings.HasPrefix(string(k), string(ws)); k, v = c.Next() {
		var f File
		if err := json.Unmarshal(v, &f); err != nil {
			return nil, err
		}
		if !includeDeleted && f.DeletedAt != nil {
			continue
		}
		if boundary != "" && f.Path != boundary && !strings.HasPrefix(f.Path, boundary+"/") {
			continue
		}
		out = append(out, &f)
	}
	return out, nil
}

// ListExpiredDeletedFiles scans every workspace for soft-deleted files whose
// retention window (§5 deleteExpiresAt) has passed as of now, for the
// reaper's periodic purge sweep.
func (s *Store) ListExpiredDeletedFiles(now time.Time) ([]*File, error) {
	var out []*File
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketFiles).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var f File
			if err := json.Unmarshal(v, &f); err != nil {
				return err
			}
			if f.DeletedAt != nil && f.DeleteExpiresAt != nil && f.DeleteExpiresAt.Before(now) {
				cp := f
				out = append(out, &cp)
			}
		}
		return nil
	})
	return out, err
}

func parentFolder(path string) string {
	path = strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}
