package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/DoyleJ11/gasha-backend/internal/engine"
	"github.com/DoyleJ11/gasha-backend/internal/hub"
	"github.com/DoyleJ11/gasha-backend/internal/room"
	"github.com/DoyleJ11/gasha-backend/internal/types"
)

var ErrRateLimited = errors.New("rate limited")

type Config struct {
	// ReadTimeout is how long a peer may leave a ping unanswered.
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	OutboxSize     int
	CommandRate    rate.Limit
	CommandBurst   int
	OriginPatterns []string
	Limits         types.Limits
}

func DefaultConfig() Config {
	return Config{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 3 * time.Second,
		OutboxSize:   32,
		CommandRate:  20,
		CommandBurst: 40,
		Limits:       types.DefaultLimits(),
	}
}

// Handler serves GET /ws?room=<id>. Every connection is one room subscriber
// that may also send commands.
func Handler(h *hub.Hub, cfg Config, logger *zap.Logger) http.HandlerFunc {
	dec := types.NewDecoder(cfg.Limits)

	return func(w http.ResponseWriter, r *http.Request) {
		roomID := r.URL.Query().Get("room")
		if !hub.ValidRoomID(roomID) {
			http.Error(w, "missing or invalid room", http.StatusBadRequest)
			return
		}

		rm, err := h.Ensure(r.Context(), roomID)
		if err != nil {
			http.Error(w, "room unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: cfg.OriginPatterns,
		})
		if err != nil {
			logger.Debug("websocket accept failed", zap.String("room_id", roomID), zap.Error(err))
			return
		}
		defer conn.CloseNow()

		clientID := uuid.NewString()
		log := logger.With(zap.String("room_id", roomID), zap.String("client_id", clientID))

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := make(chan engine.Event, cfg.OutboxSize)
		if err := rm.Send(ctx, room.Join{ClientID: clientID, Outbox: out}); err != nil {
			conn.Close(websocket.StatusTryAgainLater, "room unavailable")
			return
		}
		defer func() {
			leaveCtx, leaveCancel := context.WithTimeout(context.Background(), time.Second)
			_ = rm.Send(leaveCtx, room.Leave{ClientID: clientID})
			leaveCancel()
		}()
		log.Debug("websocket connected")

		// Writer goroutine
		go func() {
			defer cancel()
			writeLoop(ctx, conn, out, cfg.WriteTimeout, log)
		}()

		if cfg.ReadTimeout > 0 {
			go func() {
				defer cancel()
				pingLoop(ctx, conn, cfg.ReadTimeout)
			}()
		}

		limiter := rate.NewLimiter(cfg.CommandRate, cfg.CommandBurst)

		// Reader loop
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					log.Debug("websocket closed by peer")
				default:
					log.Debug("websocket read ended", zap.Error(err))
				}
				return
			}

			if !limiter.Allow() {
				writeEvent(ctx, conn, engine.ErrorEvent(ErrRateLimited), cfg.WriteTimeout, log)
				continue
			}

			cmd, err := dec.DecodeCommand(data)
			if err != nil {
				log.Info("rejected frame", zap.Error(err))
				writeEvent(ctx, conn, engine.ErrorEvent(err), cfg.WriteTimeout, log)
				continue
			}

			if err := rm.Send(ctx, room.FromClient{ClientID: clientID, Cmd: cmd}); err != nil {
				conn.Close(websocket.StatusGoingAway, "room closed")
				return
			}
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan engine.Event, timeout time.Duration, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-out:
			if !ok {
				// the room dropped us or stopped
				conn.Close(websocket.StatusGoingAway, "unsubscribed")
				return
			}
			if err := writeEvent(ctx, conn, ev, timeout, log); err != nil {
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev engine.Event, timeout time.Duration, log *zap.Logger) error {
	payload, err := types.EncodeEvent(ev)
	if err != nil {
		log.Error("encode event", zap.String("type", string(ev.Type)), zap.Error(err))
		return nil
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		log.Debug("websocket write failed", zap.Error(err))
		return err
	}
	return nil
}

func pingLoop(ctx context.Context, conn *websocket.Conn, timeout time.Duration) {
	t := time.NewTicker(timeout / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pingCtx, cancel := context.WithTimeout(ctx, timeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
