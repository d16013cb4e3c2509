package protocol

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

type EventName string

// Client to server.
const (
	EventJoinNote           EventName = "join_note"
	EventLeaveNote          EventName = "leave_note"
	EventContentChanges     EventName = "content_changes"
	EventTitleChanged       EventName = "title_changed"
	EventCursorPosition     EventName = "cursor_position"
	EventAddComment         EventName = "add_comment"
	EventResolveComment     EventName = "resolve_comment"
	EventInviteCollaborator EventName = "invite_collaborator"
	EventRemoveCollaborator EventName = "remove_collaborator"
)

// Server to client.
const (
	EventUserJoined          EventName = "user-joined"
	EventUserLeft            EventName = "user-left"
	EventActiveUsers         EventName = "active-users"
	EventContentChanged      EventName = "content-changed"
	EventTitleChangedRemote  EventName = "title-changed"
	EventCursorMoved         EventName = "cursor-moved"
	EventCommentAdded        EventName = "comment-added"
	EventCommentResolved     EventName = "comment-resolved"
	EventCollaboratorJoined  EventName = "collaborator-joined"
	EventCollaboratorRemoved EventName = "collaborator-removed"
	EventError               EventName = "error"
)

// Envelope is the frame exchanged over the duplex connection.
type Envelope struct {
	ID        string          `json:"id"`
	Event     EventName       `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func NewEnvelope(name EventName, payload interface{}) (*Envelope, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Envelope{
		ID:        ulid.Make().String(),
		Event:     name,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

func (e *Envelope) UnmarshalPayload(v interface{}) error {
	if e.Payload == nil {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

type NoteRef struct {
	NoteID string `json:"noteId" validate:"required"`
}

type ContentChangesPayload struct {
	NoteID   string `json:"noteId" validate:"required"`
	Content  string `json:"content"`
	Position *int   `json:"position,omitempty"`
}

type TitleChangedPayload struct {
	NoteID string `json:"noteId" validate:"required"`
	Title  string `json:"title"`
}

type CursorPositionPayload struct {
	NoteID    string     `json:"noteId" validate:"required"`
	Position  int        `json:"position"`
	Selection *Selection `json:"selection,omitempty"`
}

type Selection struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type AddCommentPayload struct {
	NoteID   string `json:"noteId" validate:"required"`
	Text     string `json:"text" validate:"required,max=5000"`
	Position *int   `json:"position,omitempty"`
}

type ResolveCommentPayload struct {
	NoteID    string `json:"noteId" validate:"required"`
	CommentID string `json:"commentId" validate:"required"`
}

type InviteCollaboratorPayload struct {
	NoteID          string `json:"noteId" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	PermissionLevel string `json:"permissionLevel" validate:"required,oneof=read write admin"`
}

type RemoveCollaboratorPayload struct {
	NoteID string `json:"noteId" validate:"required"`
	UserID string `json:"userId" validate:"required"`
}

// Inbound payloads. The relay stamps noteId on everything room scoped.

type UserPayload struct {
	NoteID   string `json:"noteId,omitempty"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type ActiveUsersPayload struct {
	NoteID string        `json:"noteId,omitempty"`
	Users  []UserPayload `json:"users"`
}

type ContentChangedPayload struct {
	NoteID   string `json:"noteId,omitempty"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Content  string `json:"content"`
	Position *int   `json:"position,omitempty"`
}

type TitleChangedRemotePayload struct {
	NoteID   string `json:"noteId,omitempty"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Title    string `json:"title"`
}

type CursorMovedPayload struct {
	NoteID    string     `json:"noteId,omitempty"`
	UserID    string     `json:"userId"`
	UserName  string     `json:"userName"`
	Position  int        `json:"position"`
	Selection *Selection `json:"selection,omitempty"`
}

type CommentAddedPayload struct {
	NoteID    string    `json:"noteId,omitempty"`
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Text      string    `json:"text"`
	Position  *int      `json:"position,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type CommentResolvedPayload struct {
	NoteID     string    `json:"noteId,omitempty"`
	CommentID  string    `json:"commentId"`
	ResolvedBy string    `json:"resolvedBy"`
	ResolvedAt time.Time `json:"resolvedAt"`
}

type CollaboratorPayload struct {
	NoteID          string `json:"noteId,omitempty"`
	UserID          string `json:"userId"`
	UserName        string `json:"userName,omitempty"`
	PermissionLevel string `json:"permissionLevel,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
