package httpapi

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/gasha-backend/internal/engine"
	"github.com/DoyleJ11/gasha-backend/internal/hub"
	"github.com/DoyleJ11/gasha-backend/internal/room"
	"github.com/DoyleJ11/gasha-backend/internal/sse"
	"github.com/DoyleJ11/gasha-backend/internal/store"
	"github.com/DoyleJ11/gasha-backend/internal/types"
	"github.com/DoyleJ11/gasha-backend/internal/ws"
)

type failingStore struct{ *store.MemoryStore }

func (failingStore) Save(context.Context, engine.State) error { return store.ErrUnexpectedDatabase }

func newTestServer(t *testing.T, st store.SnapshotStore) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := hub.NewHub(ctx, room.Deps{Store: st})
	srv := httptest.NewServer(SetupRoutes(h, Options{
		PublicBaseURL:  "https://gasha.example",
		AllowedOrigins: []string{"*"},
		Limits:         types.DefaultLimits(),
		WS:             ws.DefaultConfig(),
		SSE:            sse.Config{OutboxSize: 8},
	}))
	t.Cleanup(srv.Close)
	return srv
}

func postCommand(t *testing.T, srv *httptest.Server, roomID, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/rooms/"+roomID+"/commands", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestGenerateCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		assert.Len(t, code, 8)
		assert.True(t, hub.ValidRoomID(code))
		seen[code] = true
	}
	assert.Greater(t, len(seen), 45)
}

func TestCreateRoomAndReadState(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryStore())

	resp, err := http.Post(srv.URL+"/rooms", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		RoomID string `json:"roomId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Len(t, created.RoomID, 8)

	stateResp, err := http.Get(srv.URL + "/rooms/" + created.RoomID + "/state")
	require.NoError(t, err)
	defer stateResp.Body.Close()
	require.Equal(t, http.StatusOK, stateResp.StatusCode)

	var state engine.State
	require.NoError(t, json.NewDecoder(stateResp.Body).Decode(&state))
	assert.Equal(t, created.RoomID, state.RoomID)
	assert.Equal(t, engine.PhaseIdle, state.Phase)
}

func TestApplyCommand_StatusCodes(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryStore())

	status, body := postCommand(t, srv, "room1", `{"type":"SYNC_ITEMS","payload":[{"id":"x","label":"Alice"}]}`)
	assert.Equal(t, http.StatusOK, status)
	events := body["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, "ITEMS_UPDATED", events[0].(map[string]any)["type"])

	status, body = postCommand(t, srv, "room1", `{"type":"PICK_WINNER","winnerId":"nope","mode":"MANUAL"}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "winner is not in the item pool", body["error"])

	status, body = postCommand(t, srv, "room1", `{"type":"SET_PHASE","payload":"DANCING"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["error"], "invalid message format")

	status, _ = postCommand(t, srv, "bad id!", `{"type":"RESET"}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestApplyCommand_PersistFailureIs500(t *testing.T) {
	srv := newTestServer(t, failingStore{store.NewMemoryStore()})

	status, body := postCommand(t, srv, "room1", `{"type":"RESET"}`)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "failed to save room state", body["error"])

	// non-mutating commands never touch the store
	status, _ = postCommand(t, srv, "room1", `{"type":"SHAKE_IMPULSE"}`)
	assert.Equal(t, http.StatusOK, status)
}

func TestHistoryCSV(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryStore())
	postCommand(t, srv, "room1", `{"type":"SYNC_ITEMS","payload":[{"id":"x","label":"愛麗絲","prize":"Switch"}]}`)
	postCommand(t, srv, "room1", `{"type":"PICK_WINNER","mode":"RANDOM"}`)

	resp, err := http.Get(srv.URL + "/rooms/room1/history.csv")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/csv; charset=utf-8", resp.Header.Get("Content-Type"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte("\ufeff")))

	rows, err := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\ufeff")))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"time", "record_id", "item_id", "label", "prize"}, rows[0])
	assert.Equal(t, "x", rows[1][2])
	assert.Equal(t, "愛麗絲", rows[1][3])
	assert.Equal(t, "Switch", rows[1][4])
}

func TestRoomQR(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryStore())

	resp, err := http.Get(srv.URL + "/rooms/room1/qr.png?view=controller")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	_, err = png.Decode(resp.Body)
	require.NoError(t, err)

	bad, err := http.Get(srv.URL + "/rooms/room1/qr.png?view=admin")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestHealthzAndCORS(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryStore())

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://obs.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestOriginHosts(t *testing.T) {
	assert.Equal(t,
		[]string{"*", "obs.example", "localhost:5173"},
		originHosts([]string{"*", "https://obs.example/", "http://localhost:5173"}),
	)
}

func TestReadOnlyEndpoints_UnknownRoomIs404(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryStore())

	for _, path := range []string{"/rooms/ghost123/state", "/rooms/ghost123/history.csv"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestRoomState_ReadsStoredRoomWithoutRunningIt(t *testing.T) {
	st := store.NewMemoryStore()
	saved := engine.NewEmptyState("stored1", 42)
	saved.Items = []engine.Item{{ID: "x", Label: "Alice"}}
	require.NoError(t, st.Save(context.Background(), saved))
	srv := newTestServer(t, st)

	resp, err := http.Get(srv.URL + "/rooms/stored1/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var state engine.State
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.Equal(t, saved.Items, state.Items)
}

func TestApplyCommand_BodyTooLarge(t *testing.T) {
	srv := newTestServer(t, store.NewMemoryStore())

	big := `{"type":"RESET","requestId":"` + strings.Repeat("a", maxCommandBody) + `"}`
	status, body := postCommand(t, srv, "room1", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)
	assert.Equal(t, "body too large", body["error"])
}
