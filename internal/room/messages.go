package room

import "github.com/DoyleJ11/gasha-backend/internal/engine"

type Msg interface{ isRoomMsg() }

// FromClient asks the room to apply Cmd. ClientID names the subscriber that sent it;
// Reply, if set, must be buffered and receives exactly one Result.
type FromClient struct {
	ClientID string
	Cmd      engine.Command
	Reply    chan<- Result
}

func (FromClient) isRoomMsg() {}

type Join struct {
	ClientID string
	Outbox   chan engine.Event // buffered; the room closes it on Leave, drop or shutdown
}

func (Join) isRoomMsg() {}

type Leave struct{ ClientID string }

func (Leave) isRoomMsg() {}

type Shutdown struct{}

func (Shutdown) isRoomMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isRoomMsg() {}

// Result is what a Reply-based sender gets back. On success Events holds what
// was emitted for the command.
type Result struct {
	Events []engine.Event
	Err    error
}

type View struct {
	Version    int
	NumClients int
	State      engine.State
	Err        error
}
