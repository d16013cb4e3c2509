// Package presence keeps the roster of collaborators viewing the active note.
package presence

import (
	"sync"

	"inkdown-collab/internal/domain"
	"inkdown-collab/internal/logging"
	"inkdown-collab/internal/protocol"

	"go.uber.org/zap"
)

// Tracker holds no persistent state. The roster is rebuilt from relay events
// every time a room is joined.
type Tracker struct {
	logger *zap.Logger

	mu     sync.Mutex
	room   string
	roster []domain.PresenceEntry
}

func NewTracker(logger *zap.Logger) *Tracker {
	return &Tracker{logger: logging.OrNop(logger).Named("presence")}
}

// SetRoom scopes the tracker to noteID and starts from an empty roster.
func (t *Tracker) SetRoom(noteID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.room = noteID
	t.roster = nil
}

// Clear empties the roster and drops the room scope. Events still in flight
// for the old room are ignored afterwards.
func (t *Tracker) Clear() {
	t.SetRoom("")
}

// Apply folds a presence event into the roster and reports whether it changed
// anything. Non-presence events and events for another room are ignored.
func (t *Tracker) Apply(ev protocol.Event) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.room == "" {
		t.logger.Debug("presence event dropped: no active room")
		return false
	}
	if id := ev.Note(); id != "" && id != t.room {
		t.logger.Debug("presence event dropped: other room",
			zap.String("note_id", id), zap.String("active", t.room))
		return false
	}

	switch e := ev.(type) {
	case protocol.UserJoined:
		for _, entry := range t.roster {
			if entry.UserID == e.UserID {
				return false
			}
		}
		t.roster = append(t.roster, domain.PresenceEntry{UserID: e.UserID, UserName: e.UserName})
		return true
	case protocol.UserLeft:
		for i, entry := range t.roster {
			if entry.UserID == e.UserID {
				t.roster = append(t.roster[:i:i], t.roster[i+1:]...)
				return true
			}
		}
		return false
	case protocol.ActiveUsers:
		roster := make([]domain.PresenceEntry, 0, len(e.Users))
		seen := make(map[string]bool, len(e.Users))
		for _, u := range e.Users {
			if u.UserID == "" || seen[u.UserID] {
				continue
			}
			seen[u.UserID] = true
			roster = append(roster, domain.PresenceEntry{UserID: u.UserID, UserName: u.UserName})
		}
		t.roster = roster
		return true
	default:
		return false
	}
}

// Snapshot returns a copy of the roster.
func (t *Tracker) Snapshot() []domain.PresenceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.PresenceEntry, len(t.roster))
	copy(out, t.roster)
	return out
}

func (t *Tracker) Room() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.room
}
