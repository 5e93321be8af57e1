package sse

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/gasha-backend/internal/engine"
	"github.com/DoyleJ11/gasha-backend/internal/hub"
	"github.com/DoyleJ11/gasha-backend/internal/room"
	"github.com/DoyleJ11/gasha-backend/internal/store"
)

type sseFrame struct {
	event string
	data  string
}

func readFrame(t *testing.T, lines <-chan string) sseFrame {
	t.Helper()
	var f sseFrame
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatalf("stream ended")
			}
			switch {
			case strings.HasPrefix(line, "event: "):
				f.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				f.data = strings.TrimPrefix(line, "data: ")
			case line == "" && f.event != "":
				return f
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for sse frame")
		}
	}
}

func TestHandler_StreamsRoomEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := hub.NewHub(ctx, room.Deps{Store: store.NewMemoryStore()})
	r := chi.NewRouter()
	r.Get("/rooms/{roomID}/events", Handler(h, Config{OutboxSize: 8}, zap.NewNop()))
	srv := httptest.NewServer(r)
	defer srv.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/rooms/room1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	first := readFrame(t, lines)
	assert.Equal(t, "STATE_SYNC", first.event)
	assert.Contains(t, first.data, `"roomId":"room1"`)

	rm, err := h.Ensure(ctx, "room1")
	require.NoError(t, err)
	_, err = rm.Apply(ctx, engine.Command{Type: engine.CmdSetPhase, Phase: engine.PhaseShaking})
	require.NoError(t, err)

	next := readFrame(t, lines)
	assert.Equal(t, "PHASE_CHANGED", next.event)
	assert.JSONEq(t, `{"type":"PHASE_CHANGED","payload":"SHAKING"}`, next.data)
}

func TestHandler_ErrorStatuses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := hub.NewHub(ctx, room.Deps{Store: store.NewMemoryStore()})
	r := chi.NewRouter()
	r.Get("/rooms/{roomID}/events", Handler(h, Config{OutboxSize: 8}, zap.NewNop()))
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/rooms/bad%20id/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	sctx, scancel := context.WithTimeout(ctx, time.Second)
	defer scancel()
	require.NoError(t, h.Shutdown(sctx))
	<-h.Done()

	resp, err = http.Get(srv.URL + "/rooms/room1/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
