// Package room scopes change propagation and presence to one note.
package room

import (
	"context"
	"sync"

	"inkdown-collab/internal/domain"
	"inkdown-collab/internal/logging"
	"inkdown-collab/internal/protocol"

	"go.uber.org/zap"
)

// Emitter is the part of the connection manager room operations need.
type Emitter interface {
	IsEnabled() bool
	IsConnected() bool
	Emit(ctx context.Context, name protocol.EventName, payload interface{}) bool
}

// Membership sends join and leave requests. It does not enforce that only one
// room is joined; the editor sequences leave before join.
type Membership struct {
	conn   Emitter
	logger *zap.Logger

	mu     sync.Mutex
	active string
}

func NewMembership(conn Emitter, logger *zap.Logger) *Membership {
	return &Membership{
		conn:   conn,
		logger: logging.OrNop(logger).Named("room"),
	}
}

// Join asks the relay to add this client to the note's room. It returns false
// without emitting when the connection is unusable or the note has no
// server identity.
func (m *Membership) Join(ctx context.Context, noteID string) bool {
	if !m.usable(noteID) {
		m.logger.Debug("join skipped", zap.String("note_id", noteID))
		return false
	}
	if !m.conn.Emit(ctx, protocol.EventJoinNote, &protocol.NoteRef{NoteID: noteID}) {
		return false
	}

	m.mu.Lock()
	m.active = noteID
	m.mu.Unlock()

	m.logger.Info("joined note", zap.String("note_id", noteID))
	return true
}

// Leave takes effect locally right away, even when the leave_note request
// cannot be sent.
func (m *Membership) Leave(ctx context.Context, noteID string) bool {
	m.mu.Lock()
	if m.active == noteID {
		m.active = ""
	}
	m.mu.Unlock()

	if !m.usable(noteID) {
		m.logger.Debug("leave skipped", zap.String("note_id", noteID))
		return false
	}
	if !m.conn.Emit(ctx, protocol.EventLeaveNote, &protocol.NoteRef{NoteID: noteID}) {
		return false
	}

	m.logger.Info("left note", zap.String("note_id", noteID))
	return true
}

// Active returns the joined note id, or "" when no room is joined.
func (m *Membership) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Reset forgets the joined room without emitting. Used when the connection
// drops and the relay has already discarded the membership.
func (m *Membership) Reset() {
	m.mu.Lock()
	m.active = ""
	m.mu.Unlock()
}

func (m *Membership) usable(noteID string) bool {
	if noteID == "" || noteID == domain.NewNoteID {
		return false
	}
	return m.conn.IsEnabled() && m.conn.IsConnected()
}
