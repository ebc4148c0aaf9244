// Package postgres keeps room snapshots in a Postgres table through gorm.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/kuhhandel/pkg/types"
)

type snapshotRow struct {
	Room      string `gorm:"primaryKey"`
	Version   uint64 `gorm:"not null"`
	State     string `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time
}

func (snapshotRow) TableName() string { return "room_snapshots" }

type Store struct {
	db *gorm.DB
}

// Open connects and migrates the snapshot table.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&snapshotRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Save upserts snap; an older version never overwrites a newer row.
func (s *Store) Save(ctx context.Context, room string, snap types.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	row := snapshotRow{Room: room, Version: snap.StateVersion, State: string(raw), UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room"}},
		DoUpdates: clause.AssignmentColumns([]string{"version", "state", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "room_snapshots.version <= excluded.version"},
		}},
	}).Create(&row).Error
}

func (s *Store) Load(ctx context.Context, room string) (types.Snapshot, bool, error) {
	var row snapshotRow
	err := s.db.WithContext(ctx).Where("room = ?", room).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.Snapshot{}, false, nil
	}
	if err != nil {
		return types.Snapshot{}, false, err
	}
	var snap types.Snapshot
	if err := json.Unmarshal([]byte(row.State), &snap); err != nil {
		return types.Snapshot{}, false, fmt.Errorf("decode snapshot %s: %w", room, err)
	}
	return snap, true, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
