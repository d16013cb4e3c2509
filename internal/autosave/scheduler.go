// Package autosave persists note snapshots on a debounce, one save in flight
// at a time, with a single retry for transient failures.
package autosave

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"inkdown-collab/internal/domain"
	"inkdown-collab/internal/logging"

	"go.uber.org/zap"
)

const (
	DefaultDebounce   = 2 * time.Second
	DefaultRetryDelay = 2 * time.Second
)

var (
	ErrStopped   = errors.New("autosave stopped")
	ErrMissingID = errors.New("create returned a note without an id")
)

// Persister is the durable storage the scheduler writes to. Both calls
// return the server's canonical copy.
type Persister interface {
	Create(ctx context.Context, note domain.Note) (*domain.Note, error)
	Update(ctx context.Context, id string, note domain.Note) (*domain.Note, error)
}

type Status int

const (
	StatusIdle Status = iota
	StatusPending
	StatusSaving
	StatusSaved
	StatusUnsaved
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPending:
		return "pending"
	case StatusSaving:
		return "saving"
	case StatusSaved:
		return "saved"
	case StatusUnsaved:
		return "unsaved"
	default:
		return "unknown"
	}
}

// SaveError is a save that failed for good: either non-transient, or
// transient and failed again on its one retry.
type SaveError struct {
	NoteID  string
	Op      string
	Retried bool
	Err     error
}

func (e *SaveError) Error() string {
	if e.Retried {
		return fmt.Sprintf("failed to %s note %s after retry: %v", e.Op, e.NoteID, e.Err)
	}
	return fmt.Sprintf("failed to %s note %s: %v", e.Op, e.NoteID, e.Err)
}

func (e *SaveError) Unwrap() error {
	return e.Err
}

type Options struct {
	Persister  Persister
	Debounce   time.Duration
	RetryDelay time.Duration
	// IsTransient classifies failures worth one retry. Defaults to
	// IsTransient in this package.
	IsTransient func(error) bool
	// OnSaved runs after every successful save. created is true for the
	// save that turned a draft into a stored note.
	OnSaved func(saved domain.Note, created bool)
	OnError func(err *SaveError)
	Logger  *zap.Logger
}

// Scheduler saves one logical note. Use a new Scheduler per note.
type Scheduler struct {
	persister   Persister
	debounce    time.Duration
	retryDelay  time.Duration
	isTransient func(error) bool
	onSaved     func(domain.Note, bool)
	onError     func(*SaveError)
	logger      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	latest    *domain.Note
	timer     *time.Timer
	gen       uint64
	due       bool
	saving    bool
	idle      chan struct{}
	createdID string
	status    Status
	lastErr   error
	stopped   bool
}

func NewScheduler(opts Options) *Scheduler {
	s := &Scheduler{
		persister:   opts.Persister,
		debounce:    opts.Debounce,
		retryDelay:  opts.RetryDelay,
		isTransient: opts.IsTransient,
		onSaved:     opts.OnSaved,
		onError:     opts.OnError,
		logger:      logging.OrNop(opts.Logger).Named("autosave"),
		status:      StatusIdle,
	}
	if s.debounce <= 0 {
		s.debounce = DefaultDebounce
	}
	if s.retryDelay <= 0 {
		s.retryDelay = DefaultRetryDelay
	}
	if s.isTransient == nil {
		s.isTransient = IsTransient
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Schedule records note as the snapshot to save and restarts the debounce
// window. Only the last snapshot of a burst is saved.
func (s *Scheduler) Schedule(note domain.Note) {
	snapshot := note.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if snapshot.IsDraft() && s.createdID != "" {
		snapshot.ID = s.createdID
	}
	s.latest = &snapshot
	if !s.saving {
		s.status = StatusPending
	}

	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(s.debounce, func() { s.fire(gen) })
}

// Flush saves the pending snapshot now, waiting for an in-flight save first.
// It returns the outcome of the last save it waited for.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
		s.gen++
	}
	if s.latest != nil {
		s.due = true
	}

	if s.saving {
		idle := s.idle
		s.mu.Unlock()
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
		err := s.lastErr
		s.mu.Unlock()
		return err
	}

	if s.latest == nil {
		s.mu.Unlock()
		return nil
	}
	s.startLocked()
	s.mu.Unlock()

	s.drain()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Stop cancels the debounce timer, aborts a pending retry and discards any
// unsaved snapshot. Flush first to keep it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.latest = nil
	s.mu.Unlock()

	s.cancel()
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// CreatedID is the id assigned by the Create call, or "" before it.
func (s *Scheduler) CreatedID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdID
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.stopped {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.due = true
	if s.saving {
		// The running drain picks the snapshot up when its save completes.
		s.mu.Unlock()
		return
	}
	s.startLocked()
	s.mu.Unlock()

	s.drain()
}

func (s *Scheduler) startLocked() {
	s.saving = true
	s.idle = make(chan struct{})
}

func (s *Scheduler) drain() {
	for {
		s.mu.Lock()
		if !s.due || s.latest == nil || s.stopped {
			s.due = false
			s.saving = false
			if s.latest != nil && !s.stopped {
				s.status = StatusPending
			}
			close(s.idle)
			s.mu.Unlock()
			return
		}
		snapshot := *s.latest
		s.latest = nil
		s.due = false
		if snapshot.IsDraft() && s.createdID != "" {
			snapshot.ID = s.createdID
		}
		s.status = StatusSaving
		s.mu.Unlock()

		s.persist(snapshot)
	}
}

func (s *Scheduler) persist(snapshot domain.Note) {
	saved, created, err := s.attempt(snapshot)
	retried := false
	if err != nil && s.isTransient(err) {
		s.logger.Warn("save failed, retrying once",
			zap.String("note_id", snapshot.ID), zap.Duration("delay", s.retryDelay), zap.Error(err))
		retried = true

		timer := time.NewTimer(s.retryDelay)
		select {
		case <-timer.C:
			saved, created, err = s.attempt(snapshot)
		case <-s.ctx.Done():
			timer.Stop()
			err = ErrStopped
		}
	}

	if err != nil {
		op := "update"
		if snapshot.IsDraft() {
			op = "create"
		}
		saveErr := &SaveError{NoteID: snapshot.ID, Op: op, Retried: retried, Err: err}

		s.mu.Lock()
		s.lastErr = saveErr
		s.status = StatusUnsaved
		s.mu.Unlock()

		s.logger.Error("save failed", zap.String("note_id", snapshot.ID), zap.Bool("retried", retried), zap.Error(err))
		if s.onError != nil {
			s.onError(saveErr)
		}
		return
	}

	s.mu.Lock()
	if created {
		s.createdID = saved.ID
		if s.latest != nil && s.latest.IsDraft() {
			s.latest.ID = saved.ID
		}
	}
	s.lastErr = nil
	s.status = StatusSaved
	s.mu.Unlock()

	s.logger.Info("note saved", zap.String("note_id", saved.ID), zap.Bool("created", created))
	if s.onSaved != nil {
		s.onSaved(*saved, created)
	}
}

func (s *Scheduler) attempt(snapshot domain.Note) (*domain.Note, bool, error) {
	if snapshot.IsDraft() {
		saved, err := s.persister.Create(s.ctx, snapshot)
		if err != nil {
			return nil, false, err
		}
		if saved == nil || saved.IsDraft() {
			return nil, false, ErrMissingID
		}
		return saved, true, nil
	}

	saved, err := s.persister.Update(s.ctx, snapshot.ID, snapshot)
	if err != nil {
		return nil, false, err
	}
	if saved == nil {
		saved = &snapshot
	}
	return saved, false, nil
}

// IsTransient reports network failures, timeouts and errors that declare
// themselves transient through a Transient() bool method.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrStopped) {
		return false
	}
	var t interface{ Transient() bool }
	if errors.As(err, &t) {
		return t.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
