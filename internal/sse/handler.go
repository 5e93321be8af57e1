package sse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/gasha-backend/internal/engine"
	"github.com/DoyleJ11/gasha-backend/internal/hub"
	"github.com/DoyleJ11/gasha-backend/internal/room"
	"github.com/DoyleJ11/gasha-backend/internal/types"
)

type Config struct {
	OutboxSize int
	KeepAlive  time.Duration
}

// Handler serves GET /rooms/{roomID}/events, a read-only stream of room events
// for pages that cannot hold a websocket.
func Handler(h *hub.Hub, cfg Config, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomID")
		rm, err := h.Ensure(r.Context(), roomID)
		switch {
		case errors.Is(err, hub.ErrInvalidRoomID):
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		case err != nil:
			http.Error(w, "room unavailable", http.StatusServiceUnavailable)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		clientID := "sse-" + uuid.NewString()
		log := logger.With(zap.String("room_id", roomID), zap.String("client_id", clientID))

		out := make(chan engine.Event, cfg.OutboxSize)
		if err := rm.Send(r.Context(), room.Join{ClientID: clientID, Outbox: out}); err != nil {
			http.Error(w, "room unavailable", http.StatusServiceUnavailable)
			return
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = rm.Send(ctx, room.Leave{ClientID: clientID})
			cancel()
		}()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		log.Debug("sse connected")

		var tick <-chan time.Time
		if cfg.KeepAlive > 0 {
			t := time.NewTicker(cfg.KeepAlive)
			defer t.Stop()
			tick = t.C
		}

		for {
			select {
			case <-r.Context().Done():
				log.Debug("sse disconnected")
				return
			case <-tick:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case ev, ok := <-out:
				if !ok {
					return
				}
				if err := writeEvent(w, ev); err != nil {
					log.Debug("sse write failed", zap.Error(err))
					return
				}
				flusher.Flush()
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, ev engine.Event) error {
	data, err := types.EncodeEvent(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
