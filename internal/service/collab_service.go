package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"inkdown-collab/internal/domain"
	"inkdown-collab/internal/repository"

	"github.com/google/uuid"
)

// Actor is the authenticated user behind a relay request.
type Actor struct {
	ID   string
	Name string
}

// CollabService backs the relay: room access, comments and collaborators.
type CollabService struct {
	notes    *NoteService
	userRepo repository.UserRepository
}

func NewCollabService(notes *NoteService, userRepo repository.UserRepository) *CollabService {
	return &CollabService{
		notes:    notes,
		userRepo: userRepo,
	}
}

// CanAccess reports nil when userID owns noteID or collaborates on it.
func (s *CollabService) CanAccess(ctx context.Context, noteID, userID string) error {
	note, err := s.notes.find(ctx, noteID)
	if err != nil {
		return err
	}
	if !note.CanView(userID) {
		return ErrForbidden
	}
	return nil
}

func (s *CollabService) AddComment(ctx context.Context, noteID string, actor Actor, text string, position *int) (*domain.Comment, error) {
	comment := domain.Comment{
		ID:        uuid.New().String(),
		UserID:    actor.ID,
		UserName:  actor.Name,
		Text:      text,
		Position:  position,
		CreatedAt: time.Now(),
	}

	_, err := s.notes.mutate(ctx, noteID, func(note *domain.Note) error {
		if !note.CanView(actor.ID) {
			return ErrForbidden
		}
		note.Comments = append(note.Comments, comment)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &comment, nil
}

func (s *CollabService) ResolveComment(ctx context.Context, noteID string, actor Actor, commentID string) (*domain.Comment, error) {
	var resolved domain.Comment

	_, err := s.notes.mutate(ctx, noteID, func(note *domain.Note) error {
		if !note.CanView(actor.ID) {
			return ErrForbidden
		}
		for i := range note.Comments {
			c := &note.Comments[i]
			if c.ID != commentID {
				continue
			}
			now := time.Now()
			c.Resolved = true
			c.ResolvedBy = actor.ID
			c.ResolvedAt = &now
			resolved = *c
			return nil
		}
		return ErrCommentNotFound
	})
	if err != nil {
		return nil, err
	}

	return &resolved, nil
}

// InviteCollaborator adds the user registered under email, or changes their
// permission when they already collaborate. Only the owner and admins may
// invite.
func (s *CollabService) InviteCollaborator(ctx context.Context, noteID string, actor Actor, email string, level domain.PermissionLevel) (*domain.Collaborator, error) {
	invitee, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to look up invitee: %w", err)
	}

	var added domain.Collaborator
	_, err = s.notes.mutate(ctx, noteID, func(note *domain.Note) error {
		if !canManage(note, actor.ID) {
			return ErrForbidden
		}
		if note.OwnerID == invitee.ID {
			return ErrOwnerNotCollaborator
		}
		if c, ok := note.CollaboratorFor(invitee.ID); ok {
			c.PermissionLevel = level
			c.UserName = invitee.Name()
			added = *c
			return nil
		}
		added = domain.Collaborator{
			UserID:          invitee.ID,
			UserName:        invitee.Name(),
			PermissionLevel: level,
			AddedBy:         actor.ID,
			AddedAt:         time.Now(),
		}
		note.Collaborators = append(note.Collaborators, added)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &added, nil
}

// RemoveCollaborator lets the owner and admins remove anyone, and any
// collaborator remove themselves.
func (s *CollabService) RemoveCollaborator(ctx context.Context, noteID string, actor Actor, userID string) error {
	_, err := s.notes.mutate(ctx, noteID, func(note *domain.Note) error {
		if actor.ID != userID && !canManage(note, actor.ID) {
			return ErrForbidden
		}
		for i := range note.Collaborators {
			if note.Collaborators[i].UserID == userID {
				note.Collaborators = append(note.Collaborators[:i], note.Collaborators[i+1:]...)
				return nil
			}
		}
		return ErrUserNotFound
	})
	return err
}

func canManage(note *domain.Note, userID string) bool {
	if note.OwnerID == userID {
		return true
	}
	c, ok := note.CollaboratorFor(userID)
	return ok && c.PermissionLevel == domain.PermissionAdmin
}
