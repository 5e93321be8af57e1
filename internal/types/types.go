package types

import (
	"encoding/json"

	"github.com/DoyleJ11/gasha-backend/internal/engine"
)

type ClientMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"` // items for SYNC_ITEMS, phase for SET_PHASE
	Strength  *float64        `json:"strength,omitempty"`
	WinnerID  string          `json:"winnerId,omitempty"`
	Mode      string          `json:"mode,omitempty"`
}

type ServerMessage struct {
	Type     string   `json:"type"`
	Payload  any      `json:"payload,omitempty"` // state, items or phase depending on Type
	Strength *float64 `json:"strength,omitempty"`
	WinnerID string   `json:"winnerId,omitempty"`
	Mode     string   `json:"mode,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// Limits bound what a client may put in a room.
type Limits struct {
	MaxItems        int
	MaxLabelLength  int
	MaxPrizeLength  int
	DefaultStrength float64
}

func DefaultLimits() Limits {
	return Limits{
		MaxItems:        100,
		MaxLabelLength:  50,
		MaxPrizeLength:  200,
		DefaultStrength: 5,
	}
}

func EncodeEvent(ev engine.Event) ([]byte, error) {
	return json.Marshal(ToServerMessage(ev))
}

func ToServerMessage(ev engine.Event) ServerMessage {
	msg := ServerMessage{Type: string(ev.Type)}
	switch ev.Type {
	case engine.EvtStateSync:
		msg.Payload = ev.State
	case engine.EvtItemsUpdated:
		items := ev.Items
		if items == nil {
			items = []engine.Item{}
		}
		msg.Payload = items
	case engine.EvtPhaseChanged:
		msg.Payload = ev.Phase
	case engine.EvtShakeTriggered:
		strength := ev.Strength
		msg.Strength = &strength
	case engine.EvtWinnerPicked:
		msg.WinnerID = ev.WinnerID
		msg.Mode = string(ev.Mode)
	case engine.EvtError:
		msg.Message = ev.Message
	}
	return msg
}
