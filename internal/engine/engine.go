package engine

import (
	"errors"
	"math"
)

var ErrUnknownItem = errors.New("winner is not in the item pool")
var ErrNoItems = errors.New("no items to draw from")
var ErrUnsupportedCommand = errors.New("unsupported command")
var ErrInvalidPhase = errors.New("invalid phase")

// Env carries everything Apply needs from outside so that Apply stays pure.
type Env struct {
	Now         int64 // unix millis
	MinStrength float64
	MaxStrength float64
	NewID       func() string
	Intn        func(n int) int
}

// Apply runs cmd against s and returns the events to emit and the next state.
// s is never modified; on error the returned state is s itself.
func Apply(s State, cmd Command, env Env) ([]Event, State, error) {
	switch cmd.Type {
	case CmdSyncItems:
		next := s.Clone()
		next.Items = cloneItems(cmd.Items)
		touch(&next, env.Now)

		events := []Event{{Type: EvtItemsUpdated, Items: cloneItems(next.Items)}}

		// A selection that no longer resolves is dropped; the winner stays since it lives in history.
		if !next.IsValidSelection(Deref(next.SelectedID)) {
			next.SelectedID = nil
			events = append(events, StateSyncEvent(next))
		}
		return events, next, nil

	case CmdSetPhase:
		// Operator override: any phase is accepted from any phase.
		if !cmd.Phase.Valid() {
			return nil, s, ErrInvalidPhase
		}
		next := s.Clone()
		next.Phase = cmd.Phase
		touch(&next, env.Now)
		return []Event{{Type: EvtPhaseChanged, Phase: next.Phase}}, next, nil

	case CmdShakeImpulse:
		strength := clampStrength(cmd.Strength, env.MinStrength, env.MaxStrength)
		return []Event{{Type: EvtShakeTriggered, Strength: strength}}, s, nil

	case CmdPickWinner:
		id := cmd.WinnerID
		if id == "" && cmd.Mode == ModeRandom {
			if len(s.Items) == 0 {
				return nil, s, ErrNoItems
			}
			id = s.Items[env.Intn(len(s.Items))].ID
		}

		item, ok := s.FindItem(id)
		if !ok {
			if len(s.Items) == 0 {
				return nil, s, ErrNoItems
			}
			return nil, s, ErrUnknownItem
		}

		next := s.Clone()
		next.SelectedID = idPtr(id)
		next.WinnerID = idPtr(id)
		next.Phase = PhaseSelecting
		next.History = append(next.History, WinnerRecord{
			ID:        env.NewID(),
			Item:      item,
			Timestamp: env.Now,
		})
		touch(&next, env.Now)
		return []Event{{Type: EvtWinnerPicked, WinnerID: id, Mode: cmd.Mode}}, next, nil

	case CmdReset:
		next := s.Clone()
		next.Phase = PhaseIdle
		next.SelectedID = nil
		next.WinnerID = nil
		touch(&next, env.Now)
		return []Event{{Type: EvtRoomReset}}, next, nil

	case CmdRequestState:
		return []Event{StateSyncEvent(s)}, s, nil

	case CmdClearHistory:
		// winnerId names a history record, so it goes with the history.
		// The selection refers to the item pool and stays.
		next := s.Clone()
		next.History = []WinnerRecord{}
		next.WinnerID = nil
		touch(&next, env.Now)

		events := []Event{{Type: EvtHistoryCleared}}
		if s.WinnerID != nil {
			events = append(events, StateSyncEvent(next))
		}
		return events, next, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

// Fold applies cmds in order and skips the ones Apply rejects.
func Fold(s State, cmds []Command, env Env) State {
	for _, cmd := range cmds {
		_, next, err := Apply(s, cmd, env)
		if err != nil {
			continue
		}
		s = next
	}
	return s
}

func touch(s *State, now int64) {
	if now > s.UpdatedAt {
		s.UpdatedAt = now
	}
}

func clampStrength(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}
