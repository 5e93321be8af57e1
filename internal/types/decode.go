package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/DoyleJ11/gasha-backend/internal/engine"
)

var ErrMalformed = errors.New("invalid message format")
var ErrUnknownType = errors.New("unknown message type")

// DecodeError is returned for frames that must never reach a room.
// Error() is safe to send back to the client.
type DecodeError struct {
	Type   string
	Err    error
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Reason == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func malformed(msgType, format string, args ...any) *DecodeError {
	return &DecodeError{Type: msgType, Err: ErrMalformed, Reason: fmt.Sprintf(format, args...)}
}

type Decoder struct {
	Limits Limits
}

func NewDecoder(limits Limits) *Decoder {
	return &Decoder{Limits: limits}
}

// DecodeCommand parses one client frame and validates its shape.
func (d *Decoder) DecodeCommand(data []byte) (engine.Command, error) {
	var m ClientMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return engine.Command{}, malformed("", "bad json")
	}
	return d.ToCommand(m)
}

func (d *Decoder) ToCommand(m ClientMessage) (engine.Command, error) {
	cmd := engine.Command{Type: engine.CommandType(m.Type), RequestID: m.RequestID}

	switch cmd.Type {
	case engine.CmdSyncItems:
		if len(m.Payload) == 0 || string(m.Payload) == "null" {
			return engine.Command{}, malformed(m.Type, "payload must be a list of items")
		}
		var items []engine.Item
		if err := json.Unmarshal(m.Payload, &items); err != nil {
			return engine.Command{}, malformed(m.Type, "payload must be a list of items")
		}
		if err := d.validateItems(items); err != nil {
			return engine.Command{}, err
		}
		cmd.Items = items

	case engine.CmdSetPhase:
		var phase engine.Phase
		if err := json.Unmarshal(m.Payload, &phase); err != nil || !phase.Valid() {
			return engine.Command{}, malformed(m.Type, "payload must be one of %v", engine.Phases)
		}
		cmd.Phase = phase

	case engine.CmdShakeImpulse:
		cmd.Strength = d.Limits.DefaultStrength
		if m.Strength != nil {
			if math.IsNaN(*m.Strength) || math.IsInf(*m.Strength, 0) {
				return engine.Command{}, malformed(m.Type, "strength must be a finite number")
			}
			cmd.Strength = *m.Strength
		}

	case engine.CmdPickWinner:
		mode := engine.PickMode(m.Mode)
		if !mode.Valid() {
			return engine.Command{}, malformed(m.Type, "mode must be RANDOM or MANUAL")
		}
		if mode == engine.ModeManual && m.WinnerID == "" {
			return engine.Command{}, malformed(m.Type, "winnerId is required")
		}
		cmd.Mode = mode
		cmd.WinnerID = m.WinnerID

	case engine.CmdReset, engine.CmdRequestState, engine.CmdClearHistory:

	default:
		return engine.Command{}, &DecodeError{Type: m.Type, Err: ErrUnknownType, Reason: fmt.Sprintf("%q", m.Type)}
	}

	return cmd, nil
}

func (d *Decoder) validateItems(items []engine.Item) error {
	if d.Limits.MaxItems > 0 && len(items) > d.Limits.MaxItems {
		return malformed(string(engine.CmdSyncItems), "at most %d items allowed", d.Limits.MaxItems)
	}

	seen := make(map[string]struct{}, len(items))
	for i, it := range items {
		if it.ID == "" {
			return malformed(string(engine.CmdSyncItems), "items[%d]: id is required", i)
		}
		if _, dup := seen[it.ID]; dup {
			return malformed(string(engine.CmdSyncItems), "items[%d]: duplicate id %q", i, it.ID)
		}
		seen[it.ID] = struct{}{}

		if it.Label == "" {
			return malformed(string(engine.CmdSyncItems), "items[%d]: label is required", i)
		}
		if d.Limits.MaxLabelLength > 0 && utf8.RuneCountInString(it.Label) > d.Limits.MaxLabelLength {
			return malformed(string(engine.CmdSyncItems), "items[%d]: label longer than %d", i, d.Limits.MaxLabelLength)
		}
		if d.Limits.MaxPrizeLength > 0 && utf8.RuneCountInString(it.Prize) > d.Limits.MaxPrizeLength {
			return malformed(string(engine.CmdSyncItems), "items[%d]: prize longer than %d", i, d.Limits.MaxPrizeLength)
		}
	}
	return nil
}
