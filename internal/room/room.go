package room

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/gasha-backend/internal/engine"
	"github.com/DoyleJ11/gasha-backend/internal/relay"
	"github.com/DoyleJ11/gasha-backend/internal/store"
)

var ErrRoomClosed = errors.New("room closed")
var ErrRoomUnavailable = errors.New("room state unavailable")
var ErrPersist = errors.New("failed to save room state")

type Options struct {
	MinStrength    float64
	MaxStrength    float64
	PersistTimeout time.Duration
	DedupeWindow   int // how many accepted request ids are remembered
	InboxSize      int
	NewID          func() string
	Intn           func(n int) int
}

func DefaultOptions() Options {
	return Options{
		MinStrength:    3,
		MaxStrength:    10,
		PersistTimeout: 5 * time.Second,
		DedupeWindow:   256,
		InboxSize:      64,
		NewID:          uuid.NewString,
		Intn:           rand.Intn,
	}
}

type Deps struct {
	Store   store.SnapshotStore
	Relay   relay.Publisher
	Clock   clockwork.Clock
	Logger  *zap.Logger
	Options Options
}

func (d Deps) withDefaults() Deps {
	def := DefaultOptions()
	if d.Store == nil {
		d.Store = store.NewMemoryStore()
	}
	if d.Relay == nil {
		d.Relay = relay.Nop{}
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Options.PersistTimeout <= 0 {
		d.Options.PersistTimeout = def.PersistTimeout
	}
	if d.Options.InboxSize <= 0 {
		d.Options.InboxSize = def.InboxSize
	}
	if d.Options.NewID == nil {
		d.Options.NewID = def.NewID
	}
	if d.Options.Intn == nil {
		d.Options.Intn = def.Intn
	}
	if d.Options.MinStrength == 0 && d.Options.MaxStrength == 0 {
		d.Options.MinStrength, d.Options.MaxStrength = def.MinStrength, def.MaxStrength
	}
	return d
}

// Room is the single owner of one room's state. Everything reaches it through
// its inbox and is handled one message at a time.
type Room struct {
	id      string
	inbox   chan Msg
	deps    Deps
	log     *zap.Logger
	state   engine.State
	loaded  bool
	version int
	clients map[string]chan engine.Event
	seen    *requestLog
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(parent context.Context, id string, deps Deps) *Room {
	ctx, cancel := context.WithCancel(parent)
	deps = deps.withDefaults()

	r := &Room{
		id:      id,
		inbox:   make(chan Msg, deps.Options.InboxSize),
		deps:    deps,
		log:     deps.Logger.With(zap.String("room_id", id)),
		clients: make(map[string]chan engine.Event),
		seen:    newRequestLog(deps.Options.DedupeWindow),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go r.loop()
	return r
}

func (r *Room) ID() string { return r.id }

// Done is closed once the room goroutine has exited.
func (r *Room) Done() <-chan struct{} { return r.done }

// Send queues m for the room. It fails with ErrRoomClosed once the room has stopped.
func (r *Room) Send(ctx context.Context, m Msg) error {
	select {
	case <-r.done:
		return ErrRoomClosed
	default:
	}

	select {
	case r.inbox <- m:
		return nil
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Apply sends cmd without a subscriber and waits for its Result.
func (r *Room) Apply(ctx context.Context, cmd engine.Command) (Result, error) {
	reply := make(chan Result, 1)
	if err := r.Send(ctx, FromClient{Cmd: cmd, Reply: reply}); err != nil {
		return Result{}, err
	}
	select {
	case res := <-reply:
		return res, nil
	case <-r.done:
		return Result{}, ErrRoomClosed
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (r *Room) Snapshot(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := r.Send(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, v.Err
	case <-r.done:
		return View{}, ErrRoomClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

func (r *Room) loop() {
	defer close(r.done)

	// Restore before serving anything; a failure is retried on the next message.
	_ = r.ensureLoaded()

	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				r.join(msg)

			case Leave:
				if ch, ok := r.clients[msg.ClientID]; ok {
					close(ch)
					delete(r.clients, msg.ClientID)
					r.log.Debug("client left", zap.String("client_id", msg.ClientID), zap.Int("clients", len(r.clients)))
				}

			case FromClient:
				r.handle(msg)

			case GetState:
				view := View{Version: r.version, NumClients: len(r.clients)}
				if err := r.ensureLoaded(); err != nil {
					view.Err = ErrRoomUnavailable
				} else {
					view.State = r.state.Clone()
				}
				msg.Reply <- view

			case Shutdown:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Room) ensureLoaded() error {
	if r.loaded {
		return nil
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.deps.Options.PersistTimeout)
	defer cancel()

	st, err := r.deps.Store.Load(ctx, r.id)
	switch {
	case err == nil:
		r.state = st.Clone()
		r.log.Info("restored room", zap.Int("items", len(st.Items)), zap.Int("history", len(st.History)), zap.String("phase", string(st.Phase)))
	case errors.Is(err, store.ErrNotFound):
		r.state = engine.NewEmptyState(r.id, r.now())
		r.log.Info("created room")
	default:
		r.log.Error("failed to load room", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrRoomUnavailable, err)
	}

	r.loaded = true
	return nil
}

func (r *Room) join(msg Join) {
	if err := r.ensureLoaded(); err != nil {
		trySend(msg.Outbox, engine.ErrorEvent(ErrRoomUnavailable))
		close(msg.Outbox)
		return
	}

	if old, ok := r.clients[msg.ClientID]; ok && old != msg.Outbox {
		close(old)
	}
	r.clients[msg.ClientID] = msg.Outbox

	// Full snapshot to the newcomer only.
	if !trySend(msg.Outbox, engine.StateSyncEvent(r.state)) {
		r.drop(msg.ClientID)
		r.log.Warn("dropped client on join: outbox full", zap.String("client_id", msg.ClientID))
		return
	}
	r.log.Debug("client joined", zap.String("client_id", msg.ClientID), zap.Int("clients", len(r.clients)))
}

func (r *Room) handle(msg FromClient) {
	cmd := msg.Cmd
	if err := r.ensureLoaded(); err != nil {
		r.replyErr(msg, err)
		return
	}

	if cmd.RequestID != "" && r.seen.contains(cmd.RequestID) {
		r.log.Debug("duplicate command ignored", zap.String("type", string(cmd.Type)), zap.String("request_id", cmd.RequestID))
		r.reply(msg, []engine.Event{engine.StateSyncEvent(r.state)})
		return
	}

	events, next, err := engine.Apply(r.state, cmd, r.env())
	if err != nil {
		r.log.Info("command rejected", zap.String("type", string(cmd.Type)), zap.String("client_id", msg.ClientID), zap.Error(err))
		r.replyErr(msg, err)
		return
	}

	// Persist, then commit, then broadcast. A failed write discards next, so the
	// in-memory state stays equal to the last saved one.
	if cmd.Type.Mutates() {
		if err := r.persist(next); err != nil {
			r.log.Error("command rolled back", zap.String("type", string(cmd.Type)), zap.Error(err))
			r.replyErr(msg, err)
			return
		}
		r.state = next
		r.version++
	}
	r.seen.add(cmd.RequestID)

	r.log.Debug("command applied", zap.String("type", string(cmd.Type)), zap.String("client_id", msg.ClientID), zap.Int("version", r.version))

	if cmd.Type.SenderOnly() {
		r.reply(msg, events)
		return
	}

	r.broadcast(events)
	r.publish(events)
	if msg.Reply != nil {
		msg.Reply <- Result{Events: events}
	}
}

func (r *Room) persist(s engine.State) error {
	ctx, cancel := context.WithTimeout(r.ctx, r.deps.Options.PersistTimeout)
	defer cancel()

	if err := r.deps.Store.Save(ctx, s); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

// reply delivers sender-scoped events.
func (r *Room) reply(msg FromClient, events []engine.Event) {
	if msg.Reply != nil {
		msg.Reply <- Result{Events: events}
		return
	}
	ch, ok := r.clients[msg.ClientID]
	if !ok {
		return
	}
	for _, ev := range events {
		if !trySend(ch, ev) {
			r.drop(msg.ClientID)
			r.log.Warn("dropped client: outbox full", zap.String("client_id", msg.ClientID))
			return
		}
	}
}

func (r *Room) replyErr(msg FromClient, err error) {
	if msg.Reply != nil {
		msg.Reply <- Result{Err: err}
		return
	}
	r.reply(msg, []engine.Event{engine.ErrorEvent(publicError(err))})
}

func (r *Room) broadcast(events []engine.Event) {
	var errs error
	for id, ch := range r.clients {
		for _, ev := range events {
			if !trySend(ch, ev) {
				errs = multierr.Append(errs, fmt.Errorf("client %s: outbox full", id))
				r.drop(id)
				break
			}
		}
	}
	if errs != nil {
		r.log.Warn("dropped slow clients during broadcast", zap.Error(errs))
	}
}

func (r *Room) publish(events []engine.Event) {
	ctx, cancel := context.WithTimeout(r.ctx, r.deps.Options.PersistTimeout)
	defer cancel()

	var errs error
	for _, ev := range events {
		errs = multierr.Append(errs, r.deps.Relay.Publish(ctx, r.id, ev))
	}
	if errs != nil {
		r.log.Warn("relay publish failed", zap.Error(errs))
	}
}

func (r *Room) drop(id string) {
	if ch, ok := r.clients[id]; ok {
		close(ch)
		delete(r.clients, id)
	}
}

func (r *Room) shutdown() {
	for id, ch := range r.clients {
		close(ch) // no more events for this client
		delete(r.clients, id)
	}
	r.cancel()
	r.log.Debug("room stopped")
}

func (r *Room) env() engine.Env {
	return engine.Env{
		Now:         r.now(),
		MinStrength: r.deps.Options.MinStrength,
		MaxStrength: r.deps.Options.MaxStrength,
		NewID:       r.deps.Options.NewID,
		Intn:        r.deps.Options.Intn,
	}
}

func (r *Room) now() int64 {
	return r.deps.Clock.Now().UnixMilli()
}

func trySend(ch chan engine.Event, ev engine.Event) bool {
	select {
	case ch <- ev:
		return true
	default:
		return false
	}
}

// publicError hides storage details from clients.
func publicError(err error) error {
	switch {
	case errors.Is(err, ErrPersist):
		return ErrPersist
	case errors.Is(err, ErrRoomUnavailable):
		return ErrRoomUnavailable
	default:
		return err
	}
}
