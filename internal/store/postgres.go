package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/DoyleJ11/gasha-backend/internal/engine"
)

// RoomSnapshot is one row per room holding the whole serialized RoomState.
type RoomSnapshot struct {
	RoomID    string    `gorm:"column:room_id;primaryKey;size:64"`
	Document  []byte    `gorm:"column:document;type:jsonb;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (RoomSnapshot) TableName() string { return "room_snapshots" }

type PostgresConfig struct {
	DSN      string
	MaxConns int32
}

type PostgresStore struct {
	pool   *pgxpool.Pool
	db     *gorm.DB
	logger *zap.Logger
}

func NewPostgresStore(ctx context.Context, cfg PostgresConfig, logger *zap.Logger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: stdlib.OpenDBFromPool(pool)}), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("open gorm: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&RoomSnapshot{}); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate room_snapshots: %w", err)
	}

	logger.Info("postgres snapshot store ready", zap.Int32("max_conns", poolCfg.MaxConns))
	return &PostgresStore{pool: pool, db: db, logger: logger}, nil
}

func (s *PostgresStore) Load(ctx context.Context, roomID string) (engine.State, error) {
	var snap RoomSnapshot
	err := s.db.WithContext(ctx).Where("room_id = ?", roomID).Take(&snap).Error
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return engine.State{}, ErrNotFound
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return engine.State{}, err
		default:
			return engine.State{}, fmt.Errorf("%w: %w", ErrUnexpectedDatabase, err)
		}
	}

	var state engine.State
	if err := json.Unmarshal(snap.Document, &state); err != nil {
		return engine.State{}, fmt.Errorf("decode snapshot %s: %w", roomID, err)
	}
	return state, nil
}

func (s *PostgresStore) Save(ctx context.Context, state engine.State) error {
	doc, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", state.RoomID, err)
	}

	snap := RoomSnapshot{
		RoomID:    state.RoomID,
		Document:  doc,
		UpdatedAt: time.UnixMilli(state.UpdatedAt).UTC(),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"document", "updated_at"}),
	}).Create(&snap).Error
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrUnexpectedDatabase, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	var err error
	if sqlDB, dbErr := s.db.DB(); dbErr == nil {
		err = multierr.Append(err, sqlDB.Close())
	} else {
		err = multierr.Append(err, dbErr)
	}
	s.pool.Close()
	return err
}
