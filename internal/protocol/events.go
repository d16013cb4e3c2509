package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownEvent     = errors.New("unknown event")
	ErrMalformedPayload = errors.New("malformed payload")
)

// Event is the closed set of inbound events. Consumers switch on the
// concrete type; the unexported method keeps other packages from adding
// variants.
type Event interface {
	// Note returns the note id the relay stamped on the event, or "" when
	// the event relies on room scoping alone.
	Note() string
	inbound()
}

type UserJoined struct{ UserPayload }
type UserLeft struct{ UserPayload }
type ActiveUsers struct{ ActiveUsersPayload }
type ContentChanged struct{ ContentChangedPayload }
type TitleChanged struct{ TitleChangedRemotePayload }
type CursorMoved struct{ CursorMovedPayload }
type CommentAdded struct{ CommentAddedPayload }
type CommentResolved struct{ CommentResolvedPayload }
type CollaboratorJoined struct{ CollaboratorPayload }
type CollaboratorRemoved struct{ CollaboratorPayload }
type ServerError struct{ ErrorPayload }

func (e UserJoined) Note() string          { return e.NoteID }
func (e UserLeft) Note() string            { return e.NoteID }
func (e ActiveUsers) Note() string         { return e.NoteID }
func (e ContentChanged) Note() string      { return e.NoteID }
func (e TitleChanged) Note() string        { return e.NoteID }
func (e CursorMoved) Note() string         { return e.NoteID }
func (e CommentAdded) Note() string        { return e.NoteID }
func (e CommentResolved) Note() string     { return e.NoteID }
func (e CollaboratorJoined) Note() string  { return e.NoteID }
func (e CollaboratorRemoved) Note() string { return e.NoteID }
func (e ServerError) Note() string         { return "" }

func (UserJoined) inbound()          {}
func (UserLeft) inbound()            {}
func (ActiveUsers) inbound()         {}
func (ContentChanged) inbound()      {}
func (TitleChanged) inbound()        {}
func (CursorMoved) inbound()         {}
func (CommentAdded) inbound()        {}
func (CommentResolved) inbound()     {}
func (CollaboratorJoined) inbound()  {}
func (CollaboratorRemoved) inbound() {}
func (ServerError) inbound()         {}

// Decode turns an inbound envelope into its typed event.
func Decode(env *Envelope) (Event, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrMalformedPayload)
	}

	var (
		ev  Event
		err error
	)
	switch env.Event {
	case EventUserJoined:
		var e UserJoined
		err = decodeInto(env, &e.UserPayload)
		ev = e
	case EventUserLeft:
		var e UserLeft
		err = decodeInto(env, &e.UserPayload)
		ev = e
	case EventActiveUsers:
		var e ActiveUsers
		e.ActiveUsersPayload, err = decodeActiveUsers(env.Payload)
		ev = e
	case EventContentChanged:
		var e ContentChanged
		err = decodeInto(env, &e.ContentChangedPayload)
		ev = e
	case EventTitleChangedRemote:
		var e TitleChanged
		err = decodeInto(env, &e.TitleChangedRemotePayload)
		ev = e
	case EventCursorMoved:
		var e CursorMoved
		err = decodeInto(env, &e.CursorMovedPayload)
		ev = e
	case EventCommentAdded:
		var e CommentAdded
		err = decodeInto(env, &e.CommentAddedPayload)
		ev = e
	case EventCommentResolved:
		var e CommentResolved
		err = decodeInto(env, &e.CommentResolvedPayload)
		ev = e
	case EventCollaboratorJoined:
		var e CollaboratorJoined
		err = decodeInto(env, &e.CollaboratorPayload)
		ev = e
	case EventCollaboratorRemoved:
		var e CollaboratorRemoved
		err = decodeInto(env, &e.CollaboratorPayload)
		ev = e
	case EventError:
		var e ServerError
		err = decodeInto(env, &e.ErrorPayload)
		ev = e
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeInto(env *Envelope, v interface{}) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%w: %s has no payload", ErrMalformedPayload, env.Event)
	}
	if err := env.UnmarshalPayload(v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, env.Event, err)
	}
	return nil
}

// The roster goes out as a bare array; the object form with a noteId is
// accepted as well.
func decodeActiveUsers(raw json.RawMessage) (ActiveUsersPayload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ActiveUsersPayload{}, fmt.Errorf("%w: %s has no payload", ErrMalformedPayload, EventActiveUsers)
	}

	if trimmed[0] == '[' {
		var users []UserPayload
		if err := json.Unmarshal(trimmed, &users); err != nil {
			return ActiveUsersPayload{}, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, EventActiveUsers, err)
		}
		return ActiveUsersPayload{Users: users}, nil
	}

	var p ActiveUsersPayload
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return ActiveUsersPayload{}, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, EventActiveUsers, err)
	}
	return p, nil
}
