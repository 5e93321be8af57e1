package store

import (
	"context"
	"errors"

	"github.com/DoyleJ11/gasha-backend/internal/engine"
)

var ErrNotFound = errors.New("room snapshot not found")
var ErrUnexpectedDatabase = errors.New("unexpected database error")

// SnapshotStore keeps the latest snapshot of every room, keyed by room id.
// Save overwrites the whole document.
type SnapshotStore interface {
	Load(ctx context.Context, roomID string) (engine.State, error)
	Save(ctx context.Context, state engine.State) error
	Close() error
}
