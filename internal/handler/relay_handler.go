package handler

import (
	"context"
	"errors"
	"fmt"

	"inkdown-collab/internal/domain"
	"inkdown-collab/internal/logging"
	"inkdown-collab/internal/protocol"
	"inkdown-collab/internal/service"
	"inkdown-collab/internal/websocket"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var (
	ErrNotInRoom      = errors.New("join the note before sending changes")
	ErrInvalidPayload = errors.New("invalid payload")
)

// RelayHandler handles named events from websocket clients. Edits and
// cursors are fanned out to the rest of the room; comments and
// collaborator changes are persisted first and then sent to everyone in
// the room, sender included.
type RelayHandler struct {
	hub      *websocket.Manager
	collab   *service.CollabService
	validate *validator.Validate
	logger   *zap.Logger
}

func NewRelayHandler(hub *websocket.Manager, collab *service.CollabService, logger *zap.Logger) *RelayHandler {
	return &RelayHandler{
		hub:      hub,
		collab:   collab,
		validate: validator.New(),
		logger:   logging.OrNop(logger),
	}
}

func (h *RelayHandler) HandleWebSocketMessage(ctx context.Context, client *websocket.Client, env *protocol.Envelope) error {
	err := h.dispatch(ctx, client, env)
	if err != nil {
		h.replyError(client, err)
	}
	return err
}

func (h *RelayHandler) dispatch(ctx context.Context, client *websocket.Client, env *protocol.Envelope) error {
	switch env.Event {
	case protocol.EventJoinNote:
		return h.handleJoin(ctx, client, env)
	case protocol.EventLeaveNote:
		return h.handleLeave(client, env)
	case protocol.EventContentChanges:
		return h.handleContent(client, env)
	case protocol.EventTitleChanged:
		return h.handleTitle(client, env)
	case protocol.EventCursorPosition:
		return h.handleCursor(client, env)
	case protocol.EventAddComment:
		return h.handleAddComment(ctx, client, env)
	case protocol.EventResolveComment:
		return h.handleResolveComment(ctx, client, env)
	case protocol.EventInviteCollaborator:
		return h.handleInvite(ctx, client, env)
	case protocol.EventRemoveCollaborator:
		return h.handleRemove(ctx, client, env)
	default:
		return fmt.Errorf("%w: %q", protocol.ErrUnknownEvent, env.Event)
	}
}

func (h *RelayHandler) decode(env *protocol.Envelope, v interface{}) error {
	if err := env.UnmarshalPayload(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := h.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func (h *RelayHandler) handleJoin(ctx context.Context, client *websocket.Client, env *protocol.Envelope) error {
	var p protocol.NoteRef
	if err := h.decode(env, &p); err != nil {
		return err
	}

	if err := h.collab.CanAccess(ctx, p.NoteID, client.UserID); err != nil {
		return err
	}

	if h.hub.JoinRoom(client, p.NoteID) {
		h.broadcast(p.NoteID, protocol.EventUserJoined, &protocol.UserPayload{
			NoteID:   p.NoteID,
			UserID:   client.UserID,
			UserName: client.UserName,
		}, client.ID)
	}

	others := make([]protocol.UserPayload, 0)
	for _, u := range h.hub.RoomUsers(p.NoteID) {
		if u.UserID != client.UserID {
			others = append(others, u)
		}
	}
	h.send(client, protocol.EventActiveUsers, others)

	h.logger.Debug("joined note",
		zap.String("note_id", p.NoteID),
		zap.String("client_id", client.ID),
		zap.Int("others", len(others)))
	return nil
}

func (h *RelayHandler) handleLeave(client *websocket.Client, env *protocol.Envelope) error {
	var p protocol.NoteRef
	if err := h.decode(env, &p); err != nil {
		return err
	}

	h.hub.LeaveRoom(client, p.NoteID)
	return nil
}

func (h *RelayHandler) handleContent(client *websocket.Client, env *protocol.Envelope) error {
	var p protocol.ContentChangesPayload
	if err := h.decode(env, &p); err != nil {
		return err
	}
	if !h.hub.InRoom(client, p.NoteID) {
		return ErrNotInRoom
	}

	h.broadcast(p.NoteID, protocol.EventContentChanged, &protocol.ContentChangedPayload{
		NoteID:   p.NoteID,
		UserID:   client.UserID,
		UserName: client.UserName,
		Content:  p.Content,
		Position: p.Position,
	}, client.ID)
	return nil
}

func (h *RelayHandler) handleTitle(client *websocket.Client, env *protocol.Envelope) error {
	var p protocol.TitleChangedPayload
	if err := h.decode(env, &p); err != nil {
		return err
	}
	if !h.hub.InRoom(client, p.NoteID) {
		return ErrNotInRoom
	}

	h.broadcast(p.NoteID, protocol.EventTitleChangedRemote, &protocol.TitleChangedRemotePayload{
		NoteID:   p.NoteID,
		UserID:   client.UserID,
		UserName: client.UserName,
		Title:    p.Title,
	}, client.ID)
	return nil
}

func (h *RelayHandler) handleCursor(client *websocket.Client, env *protocol.Envelope) error {
	var p protocol.CursorPositionPayload
	if err := h.decode(env, &p); err != nil {
		return err
	}
	if !h.hub.InRoom(client, p.NoteID) {
		return ErrNotInRoom
	}

	h.broadcast(p.NoteID, protocol.EventCursorMoved, &protocol.CursorMovedPayload{
		NoteID:    p.NoteID,
		UserID:    client.UserID,
		UserName:  client.UserName,
		Position:  p.Position,
		Selection: p.Selection,
	}, client.ID)
	return nil
}

func (h *RelayHandler) handleAddComment(ctx context.Context, client *websocket.Client, env *protocol.Envelope) error {
	var p protocol.AddCommentPayload
	if err := h.decode(env, &p); err != nil {
		return err
	}

	c, err := h.collab.AddComment(ctx, p.NoteID, actorOf(client), p.Text, p.Position)
	if err != nil {
		return err
	}

	h.broadcast(p.NoteID, protocol.EventCommentAdded, &protocol.CommentAddedPayload{
		NoteID:    p.NoteID,
		ID:        c.ID,
		UserID:    c.UserID,
		UserName:  c.UserName,
		Text:      c.Text,
		Position:  c.Position,
		Timestamp: c.CreatedAt,
	}, "")
	return nil
}

func (h *RelayHandler) handleResolveComment(ctx context.Context, client *websocket.Client, env *protocol.Envelope) error {
	var p protocol.ResolveCommentPayload
	if err := h.decode(env, &p); err != nil {
		return err
	}

	c, err := h.collab.ResolveComment(ctx, p.NoteID, actorOf(client), p.CommentID)
	if err != nil {
		return err
	}

	h.broadcast(p.NoteID, protocol.EventCommentResolved, &protocol.CommentResolvedPayload{
		NoteID:     p.NoteID,
		CommentID:  c.ID,
		ResolvedBy: c.ResolvedBy,
		ResolvedAt: *c.ResolvedAt,
	}, "")
	return nil
}

func (h *RelayHandler) handleInvite(ctx context.Context, client *websocket.Client, env *protocol.Envelope) error {
	var p protocol.InviteCollaboratorPayload
	if err := h.decode(env, &p); err != nil {
		return err
	}

	c, err := h.collab.InviteCollaborator(ctx, p.NoteID, actorOf(client), p.Email, domain.PermissionLevel(p.PermissionLevel))
	if err != nil {
		return err
	}

	h.broadcast(p.NoteID, protocol.EventCollaboratorJoined, &protocol.CollaboratorPayload{
		NoteID:          p.NoteID,
		UserID:          c.UserID,
		UserName:        c.UserName,
		PermissionLevel: string(c.PermissionLevel),
	}, "")
	return nil
}

func (h *RelayHandler) handleRemove(ctx context.Context, client *websocket.Client, env *protocol.Envelope) error {
	var p protocol.RemoveCollaboratorPayload
	if err := h.decode(env, &p); err != nil {
		return err
	}

	if err := h.collab.RemoveCollaborator(ctx, p.NoteID, actorOf(client), p.UserID); err != nil {
		return err
	}

	h.broadcast(p.NoteID, protocol.EventCollaboratorRemoved, &protocol.CollaboratorPayload{
		NoteID: p.NoteID,
		UserID: p.UserID,
	}, "")
	return nil
}

func (h *RelayHandler) broadcast(noteID string, name protocol.EventName, payload interface{}, excludeClientID string) {
	env, err := protocol.NewEnvelope(name, payload)
	if err != nil {
		h.logger.Error("failed to build envelope", zap.String("event", string(name)), zap.Error(err))
		return
	}
	if err := h.hub.BroadcastToRoom(noteID, env, excludeClientID); err != nil {
		h.logger.Error("broadcast failed", zap.String("event", string(name)), zap.Error(err))
	}
}

func (h *RelayHandler) send(client *websocket.Client, name protocol.EventName, payload interface{}) {
	env, err := protocol.NewEnvelope(name, payload)
	if err != nil {
		h.logger.Error("failed to build envelope", zap.String("event", string(name)), zap.Error(err))
		return
	}
	if err := h.hub.SendToClient(client.ID, env); err != nil {
		h.logger.Error("send failed", zap.String("event", string(name)), zap.Error(err))
	}
}

func (h *RelayHandler) replyError(client *websocket.Client, err error) {
	h.send(client, protocol.EventError, &protocol.ErrorPayload{Message: clientMessage(err)})
}

// clientMessage keeps storage details out of what the sender sees.
func clientMessage(err error) string {
	known := []error{
		ErrNotInRoom,
		ErrInvalidPayload,
		protocol.ErrUnknownEvent,
		service.ErrNoteNotFound,
		service.ErrForbidden,
		service.ErrUserNotFound,
		service.ErrCommentNotFound,
		service.ErrOwnerNotCollaborator,
	}
	for _, k := range known {
		if errors.Is(err, k) {
			return err.Error()
		}
	}
	return "internal error"
}

func actorOf(client *websocket.Client) service.Actor {
	return service.Actor{ID: client.UserID, Name: client.UserName}
}
