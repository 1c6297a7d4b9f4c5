package registry

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"MedChat/internal/session"
)

const (
	// PlaceholderPreview is shown until a conversation has its first exchange
	PlaceholderPreview = "Bắt đầu trò chuyện..."

	maxPreviewRunes = 60
)

// Registry keeps the known sessions, most recently created first.
// Entries are unique by id.
type Registry struct {
	mu       sync.RWMutex
	sessions []session.Session
	current  string
	now      func() time.Time
}

// New creates an empty registry
func New() *Registry {
	return &Registry{now: time.Now}
}

// CreateOrSelect marks id as current. An unseen id is prepended as a new entry
// titled "Session N"; an existing entry is left unmodified. The bool reports
// whether an entry was created.
func (r *Registry) CreateOrSelect(id string) (session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.current = id
	return r.insert(id)
}

// Current returns the selected entry, if any
func (r *Registry) Current() (session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == "" {
		return session.Session{}, false
	}
	if i := r.indexOf(r.current); i >= 0 {
		return r.sessions[i], true
	}
	return session.Session{}, false
}

// CurrentID returns the selected id, or "" when nothing is selected
func (r *Registry) CurrentID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Get returns the entry for id
func (r *Registry) Get(id string) (session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := r.indexOf(id); i >= 0 {
		return r.sessions[i], true
	}
	return session.Session{}, false
}

// List returns a copy of all entries in display order
func (r *Registry) List() []session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]session.Session, len(r.sessions))
	copy(out, r.sessions)
	return out
}

// Len returns the number of entries
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SetPreview replaces the last message preview of an existing entry
func (r *Registry) SetPreview(id, text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(id)
	if i < 0 {
		return false
	}
	r.sessions[i].LastMessagePreview = truncate(text, maxPreviewRunes)
	return true
}

// Rekey moves an entry from a local placeholder id to a backend-assigned id,
// keeping its title, preview and creation time. It does nothing when oldID is
// unknown or newID is already registered.
func (r *Registry) Rekey(oldID, newID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if oldID == newID || r.indexOf(newID) >= 0 {
		return false
	}
	i := r.indexOf(oldID)
	if i < 0 {
		return false
	}
	r.sessions[i].ID = newID
	if r.current == oldID {
		r.current = newID
	}
	return true
}

// Remove drops the entry for id. Removing the selected entry clears the selection.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(id)
	if i < 0 {
		return false
	}
	r.sessions = append(r.sessions[:i], r.sessions[i+1:]...)
	if r.current == id {
		r.current = ""
	}
	return true
}

// ClearSelection unsets the current pointer without touching any entry
func (r *Registry) ClearSelection() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = ""
}

// Restore loads previously persisted entries, newest first. Ids already
// present are skipped.
func (r *Registry) Restore(entries []session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		if e.ID == "" || r.indexOf(e.ID) >= 0 {
			continue
		}
		r.sessions = append(r.sessions, e)
	}
}

func (r *Registry) indexOf(id string) int {
	for i, s := range r.sessions {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	rs := []rune(s)
	return string(rs[:max]) + "…"
}

// Register adds id if unseen without touching the current selection
func (r *Registry) Register(id string) (session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insert(id)
}

// insert prepends id unless present. Callers hold the write lock.
func (r *Registry) insert(id string) (session.Session, bool) {
	if i := r.indexOf(id); i >= 0 {
		return r.sessions[i], false
	}
	entry := session.Session{
		ID:                 id,
		Title:              fmt.Sprintf("Session %d", len(r.sessions)+1),
		LastMessagePreview: PlaceholderPreview,
		CreatedAt:          r.now(),
	}
	r.sessions = append([]session.Session{entry}, r.sessions...)
	return entry, true
}
