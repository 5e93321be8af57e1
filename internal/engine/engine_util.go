package engine

func NewEmptyState(roomID string, now int64) State {
	return State{
		RoomID:    roomID,
		Items:     []Item{},
		Phase:     PhaseIdle,
		History:   []WinnerRecord{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
