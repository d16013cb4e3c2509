// Package collab keeps one note in sync with its remote collaborators: it
// applies local edits optimistically, broadcasts them, applies edits from the
// relay and hands snapshots to autosave.
//
// Conflicts resolve as whole-field last writer wins in relay arrival order.
// Edits carry no version, so two near-simultaneous edits can silently drop
// one of them.
package collab

import (
	"context"
	"sync"
	"time"

	"inkdown-collab/internal/autosave"
	"inkdown-collab/internal/connection"
	"inkdown-collab/internal/domain"
	"inkdown-collab/internal/logging"
	"inkdown-collab/internal/presence"
	"inkdown-collab/internal/protocol"
	"inkdown-collab/internal/room"

	"go.uber.org/zap"
)

// Connection is what the editor needs from connection.Manager.
type Connection interface {
	room.Emitter
	Events() <-chan *protocol.Envelope
	Subscribe() (<-chan connection.State, func())
}

type EditorOptions struct {
	Connection Connection
	Persister  autosave.Persister
	Logger     *zap.Logger
	Debounce   time.Duration
	RetryDelay time.Duration
	// OnLocationChange runs when a draft gets its server identity.
	OnLocationChange func(oldID, newID string)
	OnSaveError      func(err *autosave.SaveError)
	OnPresence       func(roster []domain.PresenceEntry)
	OnCursorMoved    func(cursor protocol.CursorMovedPayload)
	OnServerError    func(message string)
}

type Editor struct {
	conn       Connection
	persister  autosave.Persister
	membership *room.Membership
	presence   *presence.Tracker
	logger     *zap.Logger
	opts       EditorOptions

	// Per-field markers armed with a remotely applied value and consumed by
	// the local change handler that reports the same value back.
	remoteContent echoMarker
	remoteTitle   echoMarker

	mu        sync.Mutex
	note      domain.Note
	opened    bool
	room      string
	scheduler *autosave.Scheduler
	subs      map[int]chan domain.Note
	nextSub   int
	closed    bool
	done      chan struct{}
}

func NewEditor(opts EditorOptions) *Editor {
	logger := logging.OrNop(opts.Logger)
	return &Editor{
		conn:       opts.Connection,
		persister:  opts.Persister,
		membership: room.NewMembership(opts.Connection, logger),
		presence:   presence.NewTracker(logger),
		logger:     logger.Named("collab"),
		opts:       opts,
		subs:       make(map[int]chan domain.Note),
		done:       make(chan struct{}),
	}
}

// Open makes note the edited note. A previously open note has its pending
// save flushed and its room left first, so only one room is joined at a time.
func (e *Editor) Open(ctx context.Context, note domain.Note) {
	e.mu.Lock()
	prev := e.scheduler
	prevRoom := e.room
	e.scheduler = nil
	e.opened = false
	e.room = ""
	e.mu.Unlock()

	if prevRoom != "" {
		e.leaveRoom(ctx, prevRoom)
	}
	if prev != nil {
		if err := prev.Flush(ctx); err != nil {
			e.logger.Warn("pending save of previous note failed", zap.Error(err))
		}
		prev.Stop()
	}

	e.remoteContent.reset()
	e.remoteTitle.reset()

	s := e.newScheduler()

	e.mu.Lock()
	e.note = note.Clone()
	e.opened = true
	e.scheduler = s
	snapshot := e.note.Clone()
	e.mu.Unlock()

	e.logger.Info("note opened", zap.String("note_id", note.ID), zap.Bool("draft", note.IsDraft()))
	e.notify(snapshot)

	if !note.IsDraft() {
		e.joinRoom(ctx, note.ID)
	}
}

// OnLocalContentChange handles a content change reported by the editor
// surface. The call that echoes an applied remote edit is swallowed.
func (e *Editor) OnLocalContentChange(ctx context.Context, text string) {
	if e.remoteContent.consume(text) {
		e.logger.Debug("content change from remote apply, not broadcasting")
		return
	}

	snapshot, ok := e.applyLocal(func(n *domain.Note) { n.Content = text })
	if !ok {
		return
	}

	e.emitForNote(ctx, snapshot.ID, protocol.EventContentChanges, &protocol.ContentChangesPayload{
		NoteID:  snapshot.ID,
		Content: text,
	})
	e.schedule(snapshot)
}

func (e *Editor) OnLocalTitleChange(ctx context.Context, text string) {
	if e.remoteTitle.consume(text) {
		e.logger.Debug("title change from remote apply, not broadcasting")
		return
	}

	snapshot, ok := e.applyLocal(func(n *domain.Note) { n.Title = text })
	if !ok {
		return
	}

	e.emitForNote(ctx, snapshot.ID, protocol.EventTitleChanged, &protocol.TitleChangedPayload{
		NoteID: snapshot.ID,
		Title:  text,
	})
	e.schedule(snapshot)
}

func (e *Editor) SendCursor(ctx context.Context, position int, selection *protocol.Selection) bool {
	id := e.noteID()
	return e.emitForNote(ctx, id, protocol.EventCursorPosition, &protocol.CursorPositionPayload{
		NoteID:    id,
		Position:  position,
		Selection: selection,
	})
}

// AddComment asks the relay to store a comment. The held note changes when
// the relay answers with comment-added.
func (e *Editor) AddComment(ctx context.Context, text string, position *int) bool {
	id := e.noteID()
	return e.emitForNote(ctx, id, protocol.EventAddComment, &protocol.AddCommentPayload{
		NoteID:   id,
		Text:     text,
		Position: position,
	})
}

func (e *Editor) ResolveComment(ctx context.Context, commentID string) bool {
	id := e.noteID()
	return e.emitForNote(ctx, id, protocol.EventResolveComment, &protocol.ResolveCommentPayload{
		NoteID:    id,
		CommentID: commentID,
	})
}

func (e *Editor) InviteCollaborator(ctx context.Context, email string, level domain.PermissionLevel) bool {
	id := e.noteID()
	return e.emitForNote(ctx, id, protocol.EventInviteCollaborator, &protocol.InviteCollaboratorPayload{
		NoteID:          id,
		Email:           email,
		PermissionLevel: string(level),
	})
}

func (e *Editor) RemoveCollaborator(ctx context.Context, userID string) bool {
	id := e.noteID()
	return e.emitForNote(ctx, id, protocol.EventRemoveCollaborator, &protocol.RemoveCollaboratorPayload{
		NoteID: id,
		UserID: userID,
	})
}

// Save flushes the pending snapshot right away.
func (e *Editor) Save(ctx context.Context) error {
	e.mu.Lock()
	s := e.scheduler
	e.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Flush(ctx)
}

// Run consumes relay events and connection state until ctx is done or the
// editor is closed.
func (e *Editor) Run(ctx context.Context) error {
	states, unsubscribe := e.conn.Subscribe()
	defer unsubscribe()
	events := e.conn.Events()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.done:
			return nil
		case state, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			e.handleState(ctx, state)
		case env, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			e.handleEnvelope(env)
		}
	}
}

// Subscribe delivers note snapshots after every change. Slow readers only
// see the latest one.
func (e *Editor) Subscribe() (<-chan domain.Note, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan domain.Note, 1)
	if e.closed {
		close(ch)
		return ch, func() {}
	}
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch

	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if sub, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(sub)
		}
	}
}

func (e *Editor) Note() domain.Note {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.note.Clone()
}

func (e *Editor) ActiveCollaborators() []domain.PresenceEntry {
	return e.presence.Snapshot()
}

func (e *Editor) SaveStatus() autosave.Status {
	e.mu.Lock()
	s := e.scheduler
	e.mu.Unlock()
	if s == nil {
		return autosave.StatusIdle
	}
	return s.Status()
}

// Close leaves the room, saves what is pending and stops Run.
func (e *Editor) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	s := e.scheduler
	roomID := e.room
	e.room = ""
	for id, sub := range e.subs {
		delete(e.subs, id)
		close(sub)
	}
	e.mu.Unlock()
	close(e.done)

	if roomID != "" {
		e.leaveRoom(ctx, roomID)
	}

	var err error
	if s != nil {
		err = s.Flush(ctx)
		s.Stop()
	}
	return err
}

func (e *Editor) applyLocal(mutate func(*domain.Note)) (domain.Note, bool) {
	e.mu.Lock()
	if !e.opened || e.closed {
		e.mu.Unlock()
		e.logger.Debug("local change ignored: no open note")
		return domain.Note{}, false
	}
	mutate(&e.note)
	e.note.UpdatedAt = time.Now()
	snapshot := e.note.Clone()
	e.mu.Unlock()

	e.notify(snapshot)
	return snapshot, true
}

// applyRemote runs mutate on the held note. A mutate that reports no change
// leaves the note untouched and notifies nobody.
func (e *Editor) applyRemote(mutate func(*domain.Note) bool) {
	e.mu.Lock()
	if !e.opened || e.closed {
		e.mu.Unlock()
		return
	}
	if !mutate(&e.note) {
		e.mu.Unlock()
		return
	}
	e.note.UpdatedAt = time.Now()
	snapshot := e.note.Clone()
	e.mu.Unlock()

	e.notify(snapshot)
}

func (e *Editor) schedule(snapshot domain.Note) {
	e.mu.Lock()
	s := e.scheduler
	e.mu.Unlock()
	if s != nil {
		s.Schedule(snapshot)
	}
}

// emitForNote is fire-and-forget. It is a no-op for drafts and when the
// connection is unusable.
func (e *Editor) emitForNote(ctx context.Context, noteID string, name protocol.EventName, payload interface{}) bool {
	if noteID == "" || noteID == domain.NewNoteID {
		return false
	}
	if !e.conn.IsEnabled() || !e.conn.IsConnected() {
		e.logger.Debug("emit skipped: not connected", zap.String("event", string(name)))
		return false
	}
	return e.conn.Emit(ctx, name, payload)
}

func (e *Editor) noteID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.opened {
		return ""
	}
	return e.note.ID
}

func (e *Editor) joinRoom(ctx context.Context, noteID string) {
	e.mu.Lock()
	if e.closed || e.note.ID != noteID {
		e.mu.Unlock()
		return
	}
	e.room = noteID
	e.mu.Unlock()

	// Scope presence before the request goes out so the roster reply is kept.
	e.presence.SetRoom(noteID)
	if !e.membership.Join(ctx, noteID) {
		e.mu.Lock()
		if e.room == noteID {
			e.room = ""
		}
		e.mu.Unlock()
		e.presence.Clear()
		e.publishPresence()
	}
}

func (e *Editor) leaveRoom(ctx context.Context, noteID string) {
	e.presence.Clear()
	e.membership.Leave(ctx, noteID)
	e.publishPresence()
}

func (e *Editor) activeRoom() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.room
}

func (e *Editor) handleState(ctx context.Context, state connection.State) {
	switch state {
	case connection.Connected:
		e.mu.Lock()
		id := e.note.ID
		joined := e.room != "" && e.membership.Active() == e.room
		draft := !e.opened || e.note.IsDraft()
		e.mu.Unlock()
		if !draft && !joined {
			e.joinRoom(ctx, id)
		}
	case connection.Disconnected, connection.Disabled:
		e.mu.Lock()
		e.room = ""
		e.mu.Unlock()
		e.membership.Reset()
		e.presence.Clear()
		e.publishPresence()
	}
}

func (e *Editor) handleEnvelope(env *protocol.Envelope) {
	ev, err := protocol.Decode(env)
	if err != nil {
		e.logger.Warn("dropping inbound event", zap.String("event", string(env.Event)), zap.Error(err))
		return
	}

	if _, isErr := ev.(protocol.ServerError); !isErr {
		active := e.activeRoom()
		if active == "" {
			e.logger.Debug("dropping event: no active room", zap.String("event", string(env.Event)))
			return
		}
		if id := ev.Note(); id != "" && id != active {
			e.logger.Debug("dropping event for another note",
				zap.String("event", string(env.Event)), zap.String("note_id", id))
			return
		}
	}

	e.handleEvent(ev)
}

func (e *Editor) handleEvent(ev protocol.Event) {
	switch ev := ev.(type) {
	case protocol.UserJoined, protocol.UserLeft, protocol.ActiveUsers:
		if e.presence.Apply(ev) {
			e.publishPresence()
		}
	case protocol.ContentChanged:
		e.applyRemote(func(n *domain.Note) bool {
			if n.Content == ev.Content {
				return false
			}
			n.Content = ev.Content
			e.remoteContent.arm(ev.Content)
			return true
		})
	case protocol.TitleChanged:
		e.applyRemote(func(n *domain.Note) bool {
			if n.Title == ev.Title {
				return false
			}
			n.Title = ev.Title
			e.remoteTitle.arm(ev.Title)
			return true
		})
	case protocol.CursorMoved:
		if e.opts.OnCursorMoved != nil {
			e.opts.OnCursorMoved(ev.CursorMovedPayload)
		}
	case protocol.CommentAdded:
		e.applyRemote(func(n *domain.Note) bool { return addComment(n, ev.CommentAddedPayload) })
	case protocol.CommentResolved:
		e.applyRemote(func(n *domain.Note) bool { return resolveComment(n, ev.CommentResolvedPayload) })
	case protocol.CollaboratorJoined:
		e.applyRemote(func(n *domain.Note) bool { upsertCollaborator(n, ev.CollaboratorPayload); return true })
	case protocol.CollaboratorRemoved:
		e.applyRemote(func(n *domain.Note) bool { return removeCollaborator(n, ev.UserID) })
	case protocol.ServerError:
		e.logger.Warn("relay reported an error", zap.String("message", ev.Message))
		if e.opts.OnServerError != nil {
			e.opts.OnServerError(ev.Message)
		}
	default:
		e.logger.Warn("unhandled event type")
	}
}

func (e *Editor) newScheduler() *autosave.Scheduler {
	var s *autosave.Scheduler
	s = autosave.NewScheduler(autosave.Options{
		Persister:  e.persister,
		Debounce:   e.opts.Debounce,
		RetryDelay: e.opts.RetryDelay,
		Logger:     e.logger,
		OnSaved: func(saved domain.Note, created bool) {
			if created {
				e.adoptIdentity(s, saved)
			}
		},
		OnError: func(err *autosave.SaveError) {
			if e.opts.OnSaveError != nil {
				e.opts.OnSaveError(err)
			}
		},
	})
	return s
}

// adoptIdentity moves a draft to the id the server assigned on create, then
// joins the new note's room.
func (e *Editor) adoptIdentity(s *autosave.Scheduler, saved domain.Note) {
	e.mu.Lock()
	if e.scheduler != s || !e.note.IsDraft() || e.closed {
		e.mu.Unlock()
		return
	}
	oldID := e.note.ID
	e.note.ID = saved.ID
	e.note.OwnerID = saved.OwnerID
	e.note.CreatedAt = saved.CreatedAt
	snapshot := e.note.Clone()
	e.mu.Unlock()

	e.logger.Info("draft created", zap.String("note_id", saved.ID))
	if e.opts.OnLocationChange != nil {
		e.opts.OnLocationChange(oldID, saved.ID)
	}
	e.notify(snapshot)
	e.joinRoom(context.Background(), saved.ID)
}

func (e *Editor) notify(snapshot domain.Note) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, sub := range e.subs {
		select {
		case <-sub:
		default:
		}
		sub <- snapshot.Clone()
	}
}

func (e *Editor) publishPresence() {
	if e.opts.OnPresence != nil {
		e.opts.OnPresence(e.presence.Snapshot())
	}
}

func addComment(n *domain.Note, p protocol.CommentAddedPayload) bool {
	for _, c := range n.Comments {
		if c.ID == p.ID {
			return false
		}
	}
	createdAt := p.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	n.Comments = append(n.Comments, domain.Comment{
		ID:        p.ID,
		UserID:    p.UserID,
		UserName:  p.UserName,
		Text:      p.Text,
		Position:  p.Position,
		CreatedAt: createdAt,
	})
	return true
}

func resolveComment(n *domain.Note, p protocol.CommentResolvedPayload) bool {
	for i := range n.Comments {
		if n.Comments[i].ID == p.CommentID {
			resolvedAt := p.ResolvedAt
			n.Comments[i].Resolved = true
			n.Comments[i].ResolvedBy = p.ResolvedBy
			n.Comments[i].ResolvedAt = &resolvedAt
			return true
		}
	}
	return false
}

func upsertCollaborator(n *domain.Note, p protocol.CollaboratorPayload) {
	if c, ok := n.CollaboratorFor(p.UserID); ok {
		c.UserName = p.UserName
		c.PermissionLevel = domain.PermissionLevel(p.PermissionLevel)
		return
	}
	n.Collaborators = append(n.Collaborators, domain.Collaborator{
		UserID:          p.UserID,
		UserName:        p.UserName,
		PermissionLevel: domain.PermissionLevel(p.PermissionLevel),
		AddedAt:         time.Now(),
	})
}

func removeCollaborator(n *domain.Note, userID string) bool {
	for i := range n.Collaborators {
		if n.Collaborators[i].UserID == userID {
			n.Collaborators = append(n.Collaborators[:i:i], n.Collaborators[i+1:]...)
			return true
		}
	}
	return false
}
