package hub

import (
	"context"
	"errors"
	"regexp"

	"go.uber.org/zap"

	"github.com/DoyleJ11/gasha-backend/internal/engine"
	"github.com/DoyleJ11/gasha-backend/internal/room"
	"github.com/DoyleJ11/gasha-backend/internal/store"
)

var ErrHubClosed = errors.New("hub closed")
var ErrInvalidRoomID = errors.New("invalid room id")

var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func ValidRoomID(id string) bool { return roomIDPattern.MatchString(id) }

type HubMsg interface{ isHubMsg() }

// EnsureRoom returns the room for ID, starting it if it is not running.
type EnsureRoom struct {
	ID    string
	Reply chan *room.Room
}

type GetRoom struct {
	ID    string
	Reply chan *room.Room // nil if no such room is running
}

// RemoveRoom stops the room. An EnsureRoom for the same id waits until it has exited.
type RemoveRoom struct {
	ID string
}

// ShutdownHub stops every room. Done, if set, is closed once they have all exited.
type ShutdownHub struct {
	Done chan struct{}
}

func (EnsureRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (RemoveRoom) isHubMsg()  {}
func (ShutdownHub) isHubMsg() {}

// Hub is a directory of running rooms. It never touches room state.
type Hub struct {
	inbox    chan HubMsg
	rooms    map[string]*room.Room
	stopping map[string]*room.Room // removed but not yet exited
	deps   room.Deps
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHub(parent context.Context, deps room.Deps) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Store == nil {
		deps.Store = store.NewMemoryStore()
	}
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		rooms:    make(map[string]*room.Room),
		stopping: make(map[string]*room.Room),
		deps:   deps,
		log:    deps.Logger.Named("hub"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed once the hub goroutine has exited.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Ensure returns the running room for id, creating it on first use.
func (h *Hub) Ensure(ctx context.Context, id string) (*room.Room, error) {
	if !ValidRoomID(id) {
		return nil, ErrInvalidRoomID
	}
	reply := make(chan *room.Room, 1)
	return h.ask(ctx, EnsureRoom{ID: id, Reply: reply}, reply)
}

// Get returns the running room for id, or nil.
func (h *Hub) Get(ctx context.Context, id string) (*room.Room, error) {
	reply := make(chan *room.Room, 1)
	return h.ask(ctx, GetRoom{ID: id, Reply: reply}, reply)
}

// State returns the current state of id without starting a room for it. A room
// that is not running is read straight from the store.
func (h *Hub) State(ctx context.Context, id string) (engine.State, error) {
	if !ValidRoomID(id) {
		return engine.State{}, ErrInvalidRoomID
	}
	rm, err := h.Get(ctx, id)
	if err != nil {
		return engine.State{}, err
	}
	if rm != nil {
		view, err := rm.Snapshot(ctx)
		if !errors.Is(err, room.ErrRoomClosed) {
			return view.State, err
		}
	}
	return h.deps.Store.Load(ctx, id)
}

// Shutdown stops all rooms and waits for them, or for ctx.
func (h *Hub) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case h.inbox <- ShutdownHub{Done: done}:
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) ask(ctx context.Context, m HubMsg, reply chan *room.Room) (*room.Room, error) {
	select {
	case h.inbox <- m:
	case <-h.done:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case rm := <-reply:
		return rm, nil
	case <-h.done:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown(nil)
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case EnsureRoom:
				msg.Reply <- h.ensure(msg.ID)

			case GetRoom:
				msg.Reply <- h.running(msg.ID) // may be nil

			case RemoveRoom:
				if rm := h.rooms[msg.ID]; rm != nil {
					_ = rm.Send(h.ctx, room.Shutdown{})
					delete(h.rooms, msg.ID)
					h.stopping[msg.ID] = rm
				}

			case ShutdownHub:
				h.shutdown(msg.Done)
				return
			}
		}
	}
}

// running drops rooms whose goroutine has already exited.
func (h *Hub) running(id string) *room.Room {
	rm := h.rooms[id]
	if rm == nil {
		return nil
	}
	select {
	case <-rm.Done():
		delete(h.rooms, id)
		return nil
	default:
		return rm
	}
}

func (h *Hub) ensure(id string) *room.Room {
	if rm := h.running(id); rm != nil {
		return rm
	}
	// One owner per id: a removed room finishes its queued work before a new one restores.
	if old := h.stopping[id]; old != nil {
		<-old.Done()
		delete(h.stopping, id)
	}
	rm := room.New(h.ctx, id, h.deps)
	h.rooms[id] = rm
	h.log.Info("room started", zap.String("room_id", id), zap.Int("rooms", len(h.rooms)))
	return rm
}

func (h *Hub) shutdown(done chan struct{}) {
	h.cancel() // every room context derives from h.ctx
	for id, rm := range h.rooms {
		<-rm.Done()
		delete(h.rooms, id)
	}
	for id, rm := range h.stopping {
		<-rm.Done()
		delete(h.stopping, id)
	}
	h.log.Info("hub stopped")
	if done != nil {
		close(done)
	}
}
