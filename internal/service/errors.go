package service

import "errors"

var (
	ErrNoteNotFound         = errors.New("note not found")
	ErrForbidden            = errors.New("forbidden: no access to note")
	ErrUserNotFound         = errors.New("user not found")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrInvalidToken         = errors.New("invalid token")
	ErrEmailTaken           = errors.New("email already registered")
	ErrUsernameTaken        = errors.New("username already taken")
	ErrCommentNotFound      = errors.New("comment not found")
	ErrOwnerNotCollaborator = errors.New("owner cannot be a collaborator")
)
