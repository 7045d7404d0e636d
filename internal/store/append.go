package store

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// InsertAppend allocates the next gap-free appendId for fileID and persists
// the append inside the same write transaction. bbolt's per-bucket
// NextSequence is monotonic and never reused even across deletes, which is
// exactly the FOR-UPDATE-row-lock counter semantics §4.3 specifies: because
// bbolt allows only one in-flight write transaction for the whole database,
// two concurrent appenders are serialized here with no extra locking.
func (s *Store) InsertAppend(fileID string, build func(appendID string, seq uint64) *Append) (*Append, error) {
	var result *Append
	err := s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketAppends)
		fb, err := root.CreateBucketIfNotExists([]byte(fileID))
		if err != nil {
			return err
		}
		seq, err := fb.NextSequence()
		if err != nil {
			return err
		}
		appendID := fmt.Sprintf("a%d", seq)
		a := build(appendID, seq)
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		if err := fb.Put(seqKey(seq), data); err != nil {
			return err
		}
		result = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AppendTransaction reads every existing append for fileID and an insertion
// decision function inside a single write transaction, so a precondition
// check (is there an active claim? is the task done?) and the resulting
// insert are atomic against concurrent appenders to the same file. decide
// receives the live tx (so it can read other buckets — e.g. files/appends
// for other fileIDs under a key's scope — as part of the same atomic
// decision, closing check-then-act windows that a separate read transaction
// would leave open), the current append log ordered by appendId, and the
// next allocatable appendId/seq. Returning a nil Append with a nil error
// means "no-op, do not insert" (used for idempotent repeat cancel/response);
// a failed precondition returns an error, which aborts the transaction.
func (s *Store) AppendTransaction(fileID string, decide func(tx *bolt.Tx, existing []*Append, nextAppendID string, nextSeq uint64) (*Append, error)) (*Append, error) {
	var result *Append
	err := s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketAppends)
		fb, err := root.CreateBucketIfNotExists([]byte(fileID))
		if err != nil {
			return err
		}

		var existing []*Append
		c := fb.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var a Append
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			existing = append(existing, &a)
		}

		nextSeq := fb.Sequence() + 1
		nextAppendID := fmt.Sprintf("a%d", nextSeq)

		a, err := decide(tx, existing, nextAppendID, nextSeq)
		if err != nil {
			return err
		}
		if a == nil {
			return nil
		}
		seq, err := fb.NextSequence()
		if err != nil {
			return err
		}
		a.Seq = seq
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		if err := fb.Put(seqKey(seq), data); err != nil {
			return err
		}
		result = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListAppends returns every append for fileID in insertion (appendId) order.
func (s *Store) ListAppends(fileID string) ([]*Append, error) {
	var out []*Append
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = ListAppendsTx(tx, fileID)
		return err
	})
	return out, err
}

// ListAppendsTx is ListAppends against an already-open transaction, for
// callers that need a cross-bucket read inside a larger atomic decision
// (e.g. a WIP-limit scan spanning every file in a key's scope).
func ListAppendsTx(tx *bolt.Tx, fileID string) ([]*Append, error) {
	fb := tx.Bucket(bucketAppends).Bucket([]byte(fileID))
	if fb == nil {
		return nil, nil
	}
	var out []*Append
	c := fb.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var a Append
		if err := json.Unmarshal(v, &a); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, nil
}

// GetAppend looks up a single append by its per-file appendId.
func (s *Store) GetAppend(fileID, appendID string) (*Append, error) {
	appends, err := s.ListAppends(fileID)
	if err != nil {
		return nil, err
	}
	for _, a := range appends {
		if a.AppendID == appendID {
			return a, nil
		}
	}
	return nil, &ErrNotFound{Entity: "append"}
}

// CountAppends returns the number of appends recorded for fileID.
func (s *Store) CountAppends(fileID string) (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		fb := tx.Bucket(bucketAppends).Bucket([]byte(fileID))
		if fb == nil {
			return nil
		}
		n = fb.Stats().KeyN
		return nil
	})
	return n, err
}

func seqKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d", seq))
}
