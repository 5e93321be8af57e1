package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/DoyleJ11/gasha-backend/internal/engine"
)

// MemoryStore keeps encoded snapshots in a map. Encoding on Save means later
// changes to the caller's state never leak into the stored copy.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: make(map[string][]byte),
	}
}

func (s *MemoryStore) Load(ctx context.Context, roomID string) (engine.State, error) {
	if err := ctx.Err(); err != nil {
		return engine.State{}, err
	}

	s.mu.RLock()
	doc, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if !ok {
		return engine.State{}, ErrNotFound
	}

	var state engine.State
	if err := json.Unmarshal(doc, &state); err != nil {
		return engine.State{}, fmt.Errorf("decode snapshot %s: %w", roomID, err)
	}
	return state, nil
}

func (s *MemoryStore) Save(ctx context.Context, state engine.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	doc, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", state.RoomID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[state.RoomID] = doc
	return nil
}

func (s *MemoryStore) Close() error { return nil }
