package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/gasha-backend/internal/engine"
	"github.com/DoyleJ11/gasha-backend/internal/room"
	"github.com/DoyleJ11/gasha-backend/internal/store"
)

func newTestHub(t *testing.T) (*Hub, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewHub(ctx, room.Deps{Store: st}), st
}

func TestHub_Ensure_Get_SamePointer(t *testing.T) {
	h, _ := newTestHub(t)
	ctx := context.Background()

	rm1, err := h.Ensure(ctx, "ZED12345")
	require.NoError(t, err)
	rm2, err := h.Get(ctx, "ZED12345")
	require.NoError(t, err)
	rm3, err := h.Ensure(ctx, "ZED12345")
	require.NoError(t, err)

	if rm1 == nil || rm1 != rm2 || rm1 != rm3 {
		t.Fatalf("expected same room pointer")
	}
	assert.Equal(t, "ZED12345", rm1.ID())
}

func TestHub_GetUnknownIsNil(t *testing.T) {
	h, _ := newTestHub(t)
	rm, err := h.Get(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, rm)
}

func TestHub_RejectsInvalidIDs(t *testing.T) {
	h, _ := newTestHub(t)
	for _, id := range []string{"", "has space", "../etc", string(make([]byte, 65))} {
		_, err := h.Ensure(context.Background(), id)
		assert.ErrorIs(t, err, ErrInvalidRoomID, "id %q", id)
	}
}

func TestHub_RoomsAreIndependent(t *testing.T) {
	h, _ := newTestHub(t)
	ctx := context.Background()

	a, err := h.Ensure(ctx, "roomA")
	require.NoError(t, err)
	b, err := h.Ensure(ctx, "roomB")
	require.NoError(t, err)

	res, err := a.Apply(ctx, engine.Command{Type: engine.CmdSyncItems, Items: []engine.Item{{ID: "x", Label: "X"}}})
	require.NoError(t, err)
	require.NoError(t, res.Err)

	va, err := a.Snapshot(ctx)
	require.NoError(t, err)
	vb, err := b.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, va.State.Items, 1)
	assert.Empty(t, vb.State.Items)
}

func TestHub_RemoveThenEnsureRestoresFromStore(t *testing.T) {
	h, _ := newTestHub(t)
	ctx := context.Background()

	rm, err := h.Ensure(ctx, "roomA")
	require.NoError(t, err)
	_, err = rm.Apply(ctx, engine.Command{Type: engine.CmdSyncItems, Items: []engine.Item{{ID: "x", Label: "X"}}})
	require.NoError(t, err)

	h.Inbox() <- RemoveRoom{ID: "roomA"}
	select {
	case <-rm.Done():
	case <-time.After(time.Second):
		t.Fatal("room not stopped")
	}

	again, err := h.Ensure(ctx, "roomA")
	require.NoError(t, err)
	require.NotSame(t, rm, again)
	v, err := again.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, v.State.Items, 1)
}

func TestHub_ShutdownStopsRooms(t *testing.T) {
	h, _ := newTestHub(t)
	ctx := context.Background()

	rm, err := h.Ensure(ctx, "roomA")
	require.NoError(t, err)

	sctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(sctx))

	<-rm.Done()
	<-h.Done()
	_, err = h.Ensure(ctx, "roomB")
	assert.ErrorIs(t, err, ErrHubClosed)
}

// gateStore holds every Save until release is closed.
type gateStore struct {
	*store.MemoryStore
	entered chan struct{}
	release chan struct{}
}

func (s *gateStore) Save(ctx context.Context, state engine.State) error {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	<-s.release
	return s.MemoryStore.Save(ctx, state)
}

func TestHub_EnsureWaitsForRemovedRoomToFinish(t *testing.T) {
	st := &gateStore{
		MemoryStore: store.NewMemoryStore(),
		entered:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := NewHub(ctx, room.Deps{Store: st})

	old, err := h.Ensure(ctx, "roomA")
	require.NoError(t, err)
	go func() {
		_, _ = old.Apply(ctx, engine.Command{Type: engine.CmdSyncItems, Items: []engine.Item{{ID: "x", Label: "X"}}})
	}()

	select {
	case <-st.entered:
	case <-time.After(time.Second):
		t.Fatal("save never started")
	}

	h.Inbox() <- RemoveRoom{ID: "roomA"}
	fresh := make(chan *room.Room, 1)
	go func() {
		rm, _ := h.Ensure(ctx, "roomA")
		fresh <- rm
	}()

	select {
	case <-fresh:
		t.Fatal("second room for roomA started while the first was still saving")
	case <-time.After(50 * time.Millisecond):
	}

	close(st.release)
	var rm *room.Room
	select {
	case rm = <-fresh:
	case <-time.After(time.Second):
		t.Fatal("ensure never returned")
	}
	require.NotNil(t, rm)
	require.NotSame(t, old, rm)

	v, err := rm.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, v.State.Items, 1)
}

func TestHub_StateDoesNotStartRooms(t *testing.T) {
	h, st := newTestHub(t)
	ctx := context.Background()

	_, err := h.State(ctx, "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)
	rm, err := h.Get(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, rm)

	saved := engine.NewEmptyState("stored", 7)
	require.NoError(t, st.Save(ctx, saved))
	got, err := h.State(ctx, "stored")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.CreatedAt)

	_, err = h.State(ctx, "bad id")
	assert.ErrorIs(t, err, ErrInvalidRoomID)
}

func TestHub_StateReadsRunningRoom(t *testing.T) {
	h, _ := newTestHub(t)
	ctx := context.Background()

	rm, err := h.Ensure(ctx, "roomA")
	require.NoError(t, err)
	_, err = rm.Apply(ctx, engine.Command{Type: engine.CmdSetPhase, Phase: engine.PhaseShaking})
	require.NoError(t, err)

	got, err := h.State(ctx, "roomA")
	require.NoError(t, err)
	assert.Equal(t, engine.PhaseShaking, got.Phase)
}
