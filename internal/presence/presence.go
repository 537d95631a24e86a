package presence

import "time"

// Cursor colors handed out by join order. Wraps around past eight
// collaborators, which is fine for a form-editing session.
var palette = []string{
	"#e6194b", "#3cb44b", "#4363d8", "#f58231",
	"#911eb4", "#42d4f4", "#f032e6", "#9a6324",
}

type Collaborator struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"display_name"`
	Color        string    `json:"color"`
	ConnectionID string    `json:"connection_id"`
	IsOnline     bool      `json:"is_online"`
	CurrentField string    `json:"current_field,omitempty"`
	LastActiveAt time.Time `json:"last_active_at"`
	JoinedAt     time.Time `json:"joined_at"`

	offlineAt time.Time
}

// Tracker is the collaborator set for one project. It is plain state with no
// locking of its own: the owning coordinator is the only caller, always from
// its own goroutine.
type Tracker struct {
	byID     map[string]*Collaborator
	order    []string
	colorIdx int
}

func NewTracker() *Tracker {
	return &Tracker{byID: make(map[string]*Collaborator)}
}

// Join adds a collaborator, or reattaches an existing one to a new
// connection. The second return reports whether the collaborator is new to
// the project (a reconnect within the grace window returns false).
func (t *Tracker) Join(id, displayName, connectionID string, now time.Time) (Collaborator, bool) {
	if c, ok := t.byID[id]; ok {
		c.ConnectionID = connectionID
		c.IsOnline = true
		c.LastActiveAt = now
		c.offlineAt = time.Time{}
		if displayName != "" {
			c.DisplayName = displayName
		}
		return *c, false
	}

	c := &Collaborator{
		ID:           id,
		DisplayName:  displayName,
		Color:        palette[t.colorIdx%len(palette)],
		ConnectionID: connectionID,
		IsOnline:     true,
		LastActiveAt: now,
		JoinedAt:     now,
	}
	t.colorIdx++
	t.byID[id] = c
	t.order = append(t.order, id)
	return *c, true
}

func (t *Tracker) Remove(id string) (Collaborator, bool) {
	c, ok := t.byID[id]
	if !ok {
		return Collaborator{}, false
	}
	delete(t.byID, id)
	for i, oid := range t.order {
		if oid == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return *c, true
}

func (t *Tracker) Get(id string) (Collaborator, bool) {
	c, ok := t.byID[id]
	if !ok {
		return Collaborator{}, false
	}
	return *c, true
}

// MarkActive refreshes activity and, when field is non-empty, records which
// field the collaborator is editing. It never touches lock state.
func (t *Tracker) MarkActive(id, field string, now time.Time) {
	c, ok := t.byID[id]
	if !ok {
		return
	}
	c.LastActiveAt = now
	if field != "" {
		c.CurrentField = field
	}
}

// MarkOffline flags a dropped connection, starting the reconnect window.
// Reports whether the collaborator existed and was online.
func (t *Tracker) MarkOffline(id string, now time.Time) bool {
	c, ok := t.byID[id]
	if !ok || !c.IsOnline {
		return false
	}
	c.IsOnline = false
	c.offlineAt = now
	return true
}

// List returns the collaborators ordered by join time.
func (t *Tracker) List() []Collaborator {
	out := make([]Collaborator, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.byID[id])
	}
	return out
}

func (t *Tracker) Len() int { return len(t.byID) }

// StaleOnline returns ids of online collaborators whose last activity is
// before cutoff, i.e. missed-heartbeat candidates.
func (t *Tracker) StaleOnline(cutoff time.Time) []string {
	var ids []string
	for _, id := range t.order {
		c := t.byID[id]
		if c.IsOnline && c.LastActiveAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// OfflineBefore returns ids of offline collaborators whose reconnect window
// opened before cutoff, i.e. whose grace period has lapsed.
func (t *Tracker) OfflineBefore(cutoff time.Time) []string {
	var ids []string
	for _, id := range t.order {
		c := t.byID[id]
		if !c.IsOnline && c.offlineAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}
