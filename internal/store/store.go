// Package store caches the latest public snapshot per room. The cache is a
// recovery hint only; a live state.update always wins over it.
package store

import (
	"context"

	"github.com/DoyleJ11/kuhhandel/pkg/types"
)

type SnapshotStore interface {
	Save(ctx context.Context, room string, snap types.Snapshot) error
	// Load reports false when nothing is cached for room.
	Load(ctx context.Context, room string) (types.Snapshot, bool, error)
	Close() error
}

type nop struct{}

func (nop) Save(context.Context, string, types.Snapshot) error { return nil }

func (nop) Load(context.Context, string) (types.Snapshot, bool, error) {
	return types.Snapshot{}, false, nil
}

func (nop) Close() error { return nil }

// Nop stores nothing.
func Nop() SnapshotStore { return nop{} }
