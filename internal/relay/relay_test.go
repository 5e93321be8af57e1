package relay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/DoyleJ11/gasha-backend/internal/engine"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "gasha.rooms.AB12CD34.WINNER_PICKED", Subject("gasha.rooms", "AB12CD34", engine.EvtWinnerPicked))
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), "room", engine.Event{Type: engine.EvtRoomReset}))
	assert.NoError(t, p.Close())
}

func TestDefaultNATSConfig(t *testing.T) {
	cfg := DefaultNATSConfig("nats://localhost:4222")
	assert.Equal(t, "gasha.rooms", cfg.SubjectPrefix)
	assert.Equal(t, -1, cfg.MaxReconnects)
}
