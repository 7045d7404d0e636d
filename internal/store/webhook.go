package store

import (
	"encoding/json"

	bolt "go.etcd.io/bbolt"
)

// PutWebhook inserts or updates a webhook registration.
func (s *Store) PutWebhook(w *Webhook) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(w)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketWebhooks).Put([]byte(w.ID), data)
	})
}

// GetWebhook looks up a webhook by id.
func (s *Store) GetWebhook(id string) (*Webhook, error) {
	var w Webhook
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketWebhooks).Get([]byte(id))
		if data == nil {
			return &ErrNotFound{Entity: "webhook"}
		}
		return json.Unmarshal(data, &w)
	})
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWebhooksForWorkspace returns every webhook registered for a workspace.
func (s *Store) ListWebhooksForWorkspace(workspaceID string) ([]*Webhook, error) {
	var out []*Webhook
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketWebhooks).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var w Webhook
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			if w.WorkspaceID == workspaceID {
				out = append(out, &w)
			}
		}
		return nil
	})
	return out, err
}

// DeleteWebhook removes a webhook registration.
func (s *Store) DeleteWebhook(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWebhooks)
		if b.Get([]byte(id)) == nil {
			return &ErrNotFound{Entity: "webhook"}
		}
		return b.Delete([]byte(id))
	})
}

// PutDelivery records or updates a delivery attempt for the internal audit
// trail (SPEC_FULL.md Supplemented Features).
func (s *Store) PutDelivery(d *WebhookDelivery) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(d)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketDeliveries).Put(deliveryKey(d.WebhookID, d.ID), data)
	})
}

// ListDeliveries returns every recorded delivery attempt for a webhook.
func (s *Store) ListDeliveries(webhookID string) ([]*WebhookDelivery, error) {
	var out []*WebhookDelivery
	prefix := []byte(webhookID + "\x00")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDeliveries).Cursor()
		for k, v := c.Seek(prefix); k != nil; k, v = c.Next() {
			if len(k) < len(prefix) || string(k[:len(prefix)]) != string(prefix) {
				break
			}
			var d WebhookDelivery
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			out = append(out, &d)
		}
		return nil
	})
	return out, err
}
