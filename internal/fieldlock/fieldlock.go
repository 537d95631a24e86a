package fieldlock

import (
	"sort"
	"time"
)

// Lock is an advisory, TTL-bounded claim on a single form field.
type Lock struct {
	FieldName  string    `json:"field_name"`
	HolderID   string    `json:"holder_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Manager owns the field -> lock map for one project. Like the presence
// tracker it carries no mutex: all calls come from the coordinator loop,
// which is what upholds the at-most-one-lock-per-field invariant.
type Manager struct {
	ttl   time.Duration
	locks map[string]*Lock
}

func NewManager(ttl time.Duration) *Manager {
	return &Manager{ttl: ttl, locks: make(map[string]*Lock)}
}

// Acquire grants the lock if the field is free, expired, or already held by
// the same user (which refreshes the TTL). On denial it returns the live
// lock so the caller can report the current holder.
func (m *Manager) Acquire(field, userID string, now time.Time) (Lock, bool) {
	if l, ok := m.locks[field]; ok && l.ExpiresAt.After(now) {
		if l.HolderID != userID {
			return *l, false
		}
		l.ExpiresAt = now.Add(m.ttl)
		return *l, true
	}

	l := &Lock{
		FieldName:  field,
		HolderID:   userID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(m.ttl),
	}
	m.locks[field] = l
	return *l, true
}

// Release removes the lock if userID holds it. Releasing a lock one does not
// hold, or a lock that no longer exists, is a no-op.
func (m *Manager) Release(field, userID string) bool {
	l, ok := m.locks[field]
	if !ok || l.HolderID != userID {
		return false
	}
	delete(m.locks, field)
	return true
}

// Refresh extends the TTL of a lock held by userID.
func (m *Manager) Refresh(field, userID string, now time.Time) bool {
	l, ok := m.locks[field]
	if !ok || l.HolderID != userID {
		return false
	}
	l.ExpiresAt = now.Add(m.ttl)
	return true
}

// Holder reports who holds a live lock on field, if anyone.
func (m *Manager) Holder(field string, now time.Time) (string, bool) {
	l, ok := m.locks[field]
	if !ok || !l.ExpiresAt.After(now) {
		return "", false
	}
	return l.HolderID, true
}

// ReleaseAllHeldBy drops every lock held by userID, returning the affected
// field names. Used when a collaborator leaves or times out.
func (m *Manager) ReleaseAllHeldBy(userID string) []string {
	var fields []string
	for field, l := range m.locks {
		if l.HolderID == userID {
			delete(m.locks, field)
			fields = append(fields, field)
		}
	}
	sort.Strings(fields)
	return fields
}

// ExpireStale removes every lock whose TTL has passed, returning the field
// names so the coordinator can announce the unlocks.
func (m *Manager) ExpireStale(now time.Time) []string {
	var fields []string
	for field, l := range m.locks {
		if !l.ExpiresAt.After(now) {
			delete(m.locks, field)
			fields = append(fields, field)
		}
	}
	sort.Strings(fields)
	return fields
}

// List returns the live locks sorted by field name, for snapshots.
func (m *Manager) List() []Lock {
	out := make([]Lock, 0, len(m.locks))
	for _, l := range m.locks {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FieldName < out[j].FieldName })
	return out
}

func (m *Manager) Len() int { return len(m.locks) }
