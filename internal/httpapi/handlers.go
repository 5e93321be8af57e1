package httpapi

import (
	"crypto/rand"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/DoyleJ11/gasha-backend/internal/engine"
	"github.com/DoyleJ11/gasha-backend/internal/hub"
	"github.com/DoyleJ11/gasha-backend/internal/room"
	"github.com/DoyleJ11/gasha-backend/internal/store"
	"github.com/DoyleJ11/gasha-backend/internal/types"
)

const roomIDLength = 8

const maxCommandBody = 64 << 10

func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, roomIDLength)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

func CreateRoom(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var code string
		for {
			c, err := GenerateCode()
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to generate code")
				return
			}
			existing, err := h.Get(r.Context(), c)
			if err != nil {
				writeError(w, http.StatusServiceUnavailable, "server shutting down")
				return
			}
			if existing == nil {
				code = c
				break
			}
			log.Debug("collision on room code, regenerating", zap.String("room_id", c))
		}

		rm, err := h.Ensure(r.Context(), code)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to create room")
			return
		}
		if _, err := rm.Snapshot(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, room.ErrRoomUnavailable.Error())
			return
		}

		writeJSON(w, http.StatusCreated, struct {
			RoomID string `json:"roomId"`
		}{RoomID: code})
	}
}

func RoomState(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, ok := roomState(w, r, h)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}

// ApplyCommand accepts one wire command, the same shape a websocket client sends.
func ApplyCommand(h *hub.Hub, dec *types.Decoder, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rm, ok := ensure(w, r, h)
		if !ok {
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCommandBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "body too large")
				return
			}
			writeError(w, http.StatusBadRequest, "failed to read body")
			return
		}

		cmd, err := dec.DecodeCommand(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		res, err := rm.Apply(r.Context(), cmd)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		if res.Err != nil {
			status := commandStatus(res.Err)
			if status >= http.StatusInternalServerError {
				log.Error("command failed", zap.String("room_id", rm.ID()), zap.String("type", string(cmd.Type)), zap.Error(res.Err))
			}
			writeError(w, status, publicMessage(res.Err))
			return
		}

		events := make([]types.ServerMessage, 0, len(res.Events))
		for _, ev := range res.Events {
			events = append(events, types.ToServerMessage(ev))
		}
		writeJSON(w, http.StatusOK, struct {
			Events []types.ServerMessage `json:"events"`
		}{Events: events})
	}
}

// HistoryCSV exports the winner history. The BOM keeps spreadsheet apps from
// mangling non-ASCII labels.
func HistoryCSV(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, ok := roomState(w, r, h)
		if !ok {
			return
		}

		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+state.RoomID+`-history.csv"`)
		w.WriteHeader(http.StatusOK)

		_, _ = io.WriteString(w, "\ufeff")
		cw := csv.NewWriter(w)
		_ = cw.Write([]string{"time", "record_id", "item_id", "label", "prize"})
		for _, rec := range state.History {
			_ = cw.Write([]string{
				time.UnixMilli(rec.Timestamp).UTC().Format(time.RFC3339),
				rec.ID,
				rec.Item.ID,
				rec.Item.Label,
				rec.Item.Prize,
			})
		}
		cw.Flush()
	}
}

// RoomQR renders a QR code pointing at the room's overlay or controller page.
func RoomQR(baseURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomID")
		if !hub.ValidRoomID(roomID) {
			writeError(w, http.StatusBadRequest, hub.ErrInvalidRoomID.Error())
			return
		}

		view := r.URL.Query().Get("view")
		switch view {
		case "":
			view = "overlay"
		case "overlay", "controller":
		default:
			writeError(w, http.StatusBadRequest, "view must be overlay or controller")
			return
		}

		size := 256
		if s := r.URL.Query().Get("size"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 64 || n > 1024 {
				writeError(w, http.StatusBadRequest, "size must be between 64 and 1024")
				return
			}
			size = n
		}

		png, err := qrcode.Encode(baseURL+"/"+view+"/"+roomID, qrcode.Medium, size)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to render qr code")
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_, _ = w.Write(png)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func ensure(w http.ResponseWriter, r *http.Request, h *hub.Hub) (*room.Room, bool) {
	rm, err := h.Ensure(r.Context(), chi.URLParam(r, "roomID"))
	switch {
	case errors.Is(err, hub.ErrInvalidRoomID):
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return nil, false
	}
	return rm, true
}

// roomState reads state for the read-only endpoints without starting a room.
func roomState(w http.ResponseWriter, r *http.Request, h *hub.Hub) (engine.State, bool) {
	st, err := h.State(r.Context(), chi.URLParam(r, "roomID"))
	switch {
	case errors.Is(err, hub.ErrInvalidRoomID):
		writeError(w, http.StatusBadRequest, err.Error())
		return engine.State{}, false
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "room not found")
		return engine.State{}, false
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, room.ErrRoomUnavailable.Error())
		return engine.State{}, false
	}
	return st, true
}

func commandStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrUnknownItem),
		errors.Is(err, engine.ErrNoItems),
		errors.Is(err, engine.ErrInvalidPhase),
		errors.Is(err, engine.ErrUnsupportedCommand):
		return http.StatusConflict
	case errors.Is(err, room.ErrRoomUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func publicMessage(err error) string {
	switch {
	case errors.Is(err, room.ErrPersist):
		return room.ErrPersist.Error()
	case errors.Is(err, room.ErrRoomUnavailable):
		return room.ErrRoomUnavailable.Error()
	default:
		return err.Error()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: msg})
}
