package engine

type CommandType string

const (
	CmdSyncItems    CommandType = "SYNC_ITEMS"
	CmdSetPhase     CommandType = "SET_PHASE"
	CmdShakeImpulse CommandType = "SHAKE_IMPULSE"
	CmdPickWinner   CommandType = "PICK_WINNER"
	CmdReset        CommandType = "RESET"
	CmdRequestState CommandType = "REQUEST_STATE"
	CmdClearHistory CommandType = "CLEAR_HISTORY"
)

/*
	CmdSyncItems    -> EvtItemsUpdated (+ EvtStateSync when the selection was dropped)
	CmdSetPhase     -> EvtPhaseChanged
	CmdShakeImpulse -> EvtShakeTriggered, never persisted
	CmdPickWinner   -> EvtWinnerPicked
	CmdReset        -> EvtRoomReset
	CmdRequestState -> EvtStateSync, sender only
	CmdClearHistory -> EvtHistoryCleared
*/

// Mutates reports whether an accepted command of this type changes the snapshot and must be persisted.
func (t CommandType) Mutates() bool {
	switch t {
	case CmdSyncItems, CmdSetPhase, CmdPickWinner, CmdReset, CmdClearHistory:
		return true
	default:
		return false
	}
}

// SenderOnly reports whether the resulting events go back to the sender instead of the room.
func (t CommandType) SenderOnly() bool {
	return t == CmdRequestState
}

type PickMode string

const (
	ModeRandom PickMode = "RANDOM"
	ModeManual PickMode = "MANUAL"
)

func (m PickMode) Valid() bool {
	return m == ModeRandom || m == ModeManual
}

// Command is a decoded client request. Only the fields of its Type are meaningful.
type Command struct {
	Type      CommandType
	RequestID string
	Items     []Item
	Phase     Phase
	Strength  float64
	WinnerID  string
	Mode      PickMode
}

type EventType string

const (
	EvtStateSync      EventType = "STATE_SYNC"
	EvtItemsUpdated   EventType = "ITEMS_UPDATED"
	EvtPhaseChanged   EventType = "PHASE_CHANGED"
	EvtShakeTriggered EventType = "SHAKE_TRIGGERED"
	EvtWinnerPicked   EventType = "WINNER_PICKED"
	EvtRoomReset      EventType = "ROOM_RESET"
	EvtHistoryCleared EventType = "HISTORY_CLEARED"
	EvtError          EventType = "ERROR"
)

// Event is what a room sends to subscribers. State and Items are copies owned by the event.
type Event struct {
	Type     EventType
	State    *State
	Items    []Item
	Phase    Phase
	Strength float64
	WinnerID string
	Mode     PickMode
	Message  string
}

func StateSyncEvent(s State) Event {
	c := s.Clone()
	return Event{Type: EvtStateSync, State: &c}
}

func ErrorEvent(err error) Event {
	return Event{Type: EvtError, Message: err.Error()}
}
