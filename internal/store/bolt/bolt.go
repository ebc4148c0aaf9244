// Package bolt keeps room snapshots in a local bbolt file.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/DoyleJ11/kuhhandel/pkg/types"
)

var bucket = []byte("snapshots")

type Store struct {
	db *bbolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Save keeps snap unless a newer version is already stored.
func (s *Store) Save(ctx context.Context, room string, snap types.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if cur := b.Get([]byte(room)); cur != nil {
			var old struct {
				StateVersion uint64 `json:"stateVersion"`
			}
			if json.Unmarshal(cur, &old) == nil && old.StateVersion > snap.StateVersion {
				return nil
			}
		}
		return b.Put([]byte(room), raw)
	})
}

func (s *Store) Load(ctx context.Context, room string) (types.Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return types.Snapshot{}, false, err
	}
	var (
		snap  types.Snapshot
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucket).Get([]byte(room))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &snap)
	})
	if err != nil {
		return types.Snapshot{}, false, fmt.Errorf("load %s: %w", room, err)
	}
	return snap, found, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
