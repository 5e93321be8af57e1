package engine

import "slices"

type Phase string

const (
	PhaseIdle      Phase = "IDLE"
	PhaseShaking   Phase = "SHAKING"
	PhaseSelecting Phase = "SELECTING"
	PhaseRevealing Phase = "REVEALING"
	PhaseResult    Phase = "RESULT"
)

var Phases = []Phase{PhaseIdle, PhaseShaking, PhaseSelecting, PhaseRevealing, PhaseResult}

func (p Phase) Valid() bool {
	return slices.Contains(Phases, p)
}

// Item is one ball in the prize pool. Color and AvatarURL are passed through untouched.
type Item struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Prize     string `json:"prize,omitempty"`
	Color     string `json:"color"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// WinnerRecord holds a copy of the item as it was when it won.
type WinnerRecord struct {
	ID        string `json:"id"`
	Item      Item   `json:"item"`
	Timestamp int64  `json:"timestamp"`
}

// State is the authoritative snapshot of one room. Timestamps are unix milliseconds.
type State struct {
	RoomID     string         `json:"roomId"`
	Items      []Item         `json:"items"`
	Phase      Phase          `json:"phase"`
	SelectedID *string        `json:"selectedId"`
	WinnerID   *string        `json:"winnerId"`
	History    []WinnerRecord `json:"history"`
	CreatedAt  int64          `json:"createdAt"`
	UpdatedAt  int64          `json:"updatedAt"`
}

func (s State) FindItem(id string) (Item, bool) {
	i := slices.IndexFunc(s.Items, func(it Item) bool { return it.ID == id })
	if i < 0 {
		return Item{}, false
	}
	return s.Items[i], true
}

// IsValidSelection reports whether id is absent or names an item in the pool.
func (s State) IsValidSelection(id string) bool {
	if id == "" {
		return true
	}
	_, ok := s.FindItem(id)
	return ok
}

// Clone returns a copy that shares no slices or pointers with s.
func (s State) Clone() State {
	c := s
	c.Items = cloneItems(s.Items)
	c.History = slices.Clone(s.History)
	if c.History == nil {
		c.History = []WinnerRecord{}
	}
	c.SelectedID = cloneID(s.SelectedID)
	c.WinnerID = cloneID(s.WinnerID)
	return c
}

func cloneItems(items []Item) []Item {
	if items == nil {
		return []Item{}
	}
	return slices.Clone(items)
}

func cloneID(id *string) *string {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func idPtr(id string) *string {
	return &id
}

// Deref returns the id or "" when absent.
func Deref(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}
