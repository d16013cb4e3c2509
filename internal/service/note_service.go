package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"inkdown-collab/internal/domain"
	"inkdown-collab/internal/repository"

	"github.com/google/uuid"
)

// NoteService stores notes. Updates replace whole fields: the last write
// that reaches the server wins.
type NoteService struct {
	repo  repository.NoteRepository
	locks noteLocks
}

func NewNoteService(repo repository.NoteRepository) *NoteService {
	return &NoteService{repo: repo}
}

func (s *NoteService) Create(ctx context.Context, userID string, req *domain.CreateNoteRequest) (*domain.NoteResponse, error) {
	now := time.Now()

	note := &domain.Note{
		ID:            uuid.New().String(),
		OwnerID:       userID,
		Title:         req.Title,
		Content:       req.Content,
		Collaborators: []domain.Collaborator{},
		Comments:      []domain.Comment{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.Create(ctx, note); err != nil {
		return nil, err
	}

	return domain.NewNoteResponse(note), nil
}

func (s *NoteService) List(ctx context.Context, userID string) ([]*domain.NoteResponse, error) {
	notes, err := s.repo.List(ctx, userID)
	if err != nil {
		return nil, err
	}

	responses := make([]*domain.NoteResponse, 0, len(notes))
	for _, n := range notes {
		responses = append(responses, domain.NewNoteResponse(n))
	}

	return responses, nil
}

func (s *NoteService) GetByID(ctx context.Context, userID, noteID string) (*domain.NoteResponse, error) {
	note, err := s.find(ctx, noteID)
	if err != nil {
		return nil, err
	}

	if !note.CanView(userID) {
		return nil, ErrForbidden
	}

	return domain.NewNoteResponse(note), nil
}

func (s *NoteService) Update(ctx context.Context, userID, noteID string, req *domain.UpdateNoteRequest) (*domain.NoteResponse, error) {
	note, err := s.mutate(ctx, noteID, func(note *domain.Note) error {
		if !note.CanEdit(userID) {
			return ErrForbidden
		}
		if req.Title != nil {
			note.Title = *req.Title
		}
		if req.Content != nil {
			note.Content = *req.Content
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return domain.NewNoteResponse(note), nil
}

func (s *NoteService) Delete(ctx context.Context, userID, noteID string) error {
	unlock := s.locks.lock(noteID)
	defer unlock()

	note, err := s.find(ctx, noteID)
	if err != nil {
		return err
	}

	if note.OwnerID != userID {
		return ErrForbidden
	}

	return s.repo.Delete(ctx, noteID)
}

func (s *NoteService) find(ctx context.Context, noteID string) (*domain.Note, error) {
	note, err := s.repo.FindByID(ctx, noteID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoteNotFound
		}
		return nil, fmt.Errorf("failed to load note: %w", err)
	}
	return note, nil
}

// mutate loads, changes and stores a note while holding its lock, so
// comment and collaborator edits are not lost to a concurrent content save.
func (s *NoteService) mutate(ctx context.Context, noteID string, fn func(*domain.Note) error) (*domain.Note, error) {
	unlock := s.locks.lock(noteID)
	defer unlock()

	note, err := s.find(ctx, noteID)
	if err != nil {
		return nil, err
	}

	if err := fn(note); err != nil {
		return nil, err
	}
	note.UpdatedAt = time.Now()

	if err := s.repo.Update(ctx, note); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoteNotFound
		}
		return nil, err
	}

	return note, nil
}

const lockStripes = 64

type noteLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *noteLocks) lock(noteID string) func() {
	h := fnv.New32a()
	h.Write([]byte(noteID))
	mu := &l.stripes[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}
