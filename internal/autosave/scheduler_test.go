package autosave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"inkdown-collab/internal/domain"

	"github.com/go-playground/assert/v2"
)

type call struct {
	op   string
	id   string
	note domain.Note
	at   time.Time
}

type transientErr struct{ transient bool }

func (e transientErr) Error() string   { return fmt.Sprintf("status error transient=%v", e.transient) }
func (e transientErr) Transient() bool { return e.transient }

type mockPersister struct {
	mu     sync.Mutex
	calls  []call
	errs   []error
	nextID int
	block  chan struct{}
}

func (m *mockPersister) next() error {
	if len(m.errs) == 0 {
		return nil
	}
	err := m.errs[0]
	m.errs = m.errs[1:]
	return err
}

func (m *mockPersister) Create(ctx context.Context, note domain.Note) (*domain.Note, error) {
	m.mu.Lock()
	m.calls = append(m.calls, call{op: "create", id: note.ID, note: note, at: time.Now()})
	err := m.next()
	m.nextID++
	id := fmt.Sprintf("note-%d", m.nextID)
	block := m.block
	m.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	note.ID = id
	return &note, nil
}

func (m *mockPersister) Update(ctx context.Context, id string, note domain.Note) (*domain.Note, error) {
	m.mu.Lock()
	m.calls = append(m.calls, call{op: "update", id: id, note: note, at: time.Now()})
	err := m.next()
	block := m.block
	m.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return &note, nil
}

func (m *mockPersister) snapshot() []call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]call(nil), m.calls...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func draft(content string) domain.Note {
	return domain.Note{ID: domain.NewNoteID, Title: "Untitled", Content: content}
}

func TestDebounceCoalescesBurst(t *testing.T) {
	p := &mockPersister{}
	s := NewScheduler(Options{Persister: p, Debounce: 60 * time.Millisecond})
	defer s.Stop()

	note := domain.Note{ID: "n1"}
	for i := 1; i <= 10; i++ {
		note.Content = fmt.Sprintf("edit %d", i)
		s.Schedule(note)
		time.Sleep(3 * time.Millisecond)
	}
	assert.Equal(t, s.Status(), StatusPending)

	waitFor(t, func() bool { return s.Status() == StatusSaved })
	time.Sleep(100 * time.Millisecond)

	calls := p.snapshot()
	assert.Equal(t, len(calls), 1)
	assert.Equal(t, calls[0].op, "update")
	assert.Equal(t, calls[0].note.Content, "edit 10")
}

func TestDraftCreatedOnceThenUpdated(t *testing.T) {
	p := &mockPersister{}
	var (
		mu      sync.Mutex
		created []string
	)
	s := NewScheduler(Options{
		Persister: p,
		Debounce:  20 * time.Millisecond,
		OnSaved: func(saved domain.Note, isCreate bool) {
			if isCreate {
				mu.Lock()
				created = append(created, saved.ID)
				mu.Unlock()
			}
		},
	})
	defer s.Stop()

	s.Schedule(draft("Hello"))
	s.Schedule(draft("Hello world"))
	waitFor(t, func() bool { return len(p.snapshot()) == 1 && s.Status() == StatusSaved })

	calls := p.snapshot()
	assert.Equal(t, calls[0].op, "create")
	assert.Equal(t, calls[0].note.Content, "Hello world")
	assert.Equal(t, s.CreatedID(), "note-1")

	// The caller still holds the sentinel id; the scheduler rewrites it.
	s.Schedule(draft("Hello world!"))
	waitFor(t, func() bool { return len(p.snapshot()) == 2 && s.Status() == StatusSaved })
	s.Schedule(domain.Note{ID: "note-1", Content: "Hello world!!"})
	waitFor(t, func() bool { return len(p.snapshot()) == 3 && s.Status() == StatusSaved })

	calls = p.snapshot()
	assert.Equal(t, calls[1].op, "update")
	assert.Equal(t, calls[1].id, "note-1")
	assert.Equal(t, calls[2].op, "update")
	assert.Equal(t, calls[2].id, "note-1")

	mu.Lock()
	assert.Equal(t, created, []string{"note-1"})
	mu.Unlock()
}

func TestSnapshotQueuedDuringCreateUsesNewID(t *testing.T) {
	p := &mockPersister{block: make(chan struct{})}
	s := NewScheduler(Options{Persister: p, Debounce: 10 * time.Millisecond})
	defer s.Stop()

	s.Schedule(draft("first"))
	waitFor(t, func() bool { return len(p.snapshot()) == 1 })
	assert.Equal(t, s.Status(), StatusSaving)

	// Two firings while the create is in flight: only the latest is kept.
	s.Schedule(draft("second"))
	time.Sleep(30 * time.Millisecond)
	s.Schedule(draft("third"))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, len(p.snapshot()), 1)

	close(p.block)
	waitFor(t, func() bool { return len(p.snapshot()) == 2 && s.Status() == StatusSaved })

	calls := p.snapshot()
	assert.Equal(t, calls[0].op, "create")
	assert.Equal(t, calls[1].op, "update")
	assert.Equal(t, calls[1].id, "note-1")
	assert.Equal(t, calls[1].note.Content, "third")
}

func TestTransientFailureRetriedOnce(t *testing.T) {
	p := &mockPersister{errs: []error{context.DeadlineExceeded}}
	var errCount int
	var mu sync.Mutex
	s := NewScheduler(Options{
		Persister:  p,
		Debounce:   10 * time.Millisecond,
		RetryDelay: 50 * time.Millisecond,
		OnError: func(err *SaveError) {
			mu.Lock()
			errCount++
			mu.Unlock()
		},
	})
	defer s.Stop()

	s.Schedule(domain.Note{ID: "n1", Content: "saved"})
	waitFor(t, func() bool { return s.Status() == StatusSaved })

	calls := p.snapshot()
	assert.Equal(t, len(calls), 2)
	assert.Equal(t, calls[1].at.Sub(calls[0].at) >= 50*time.Millisecond, true)
	assert.Equal(t, calls[1].note.Content, "saved")
	mu.Lock()
	assert.Equal(t, errCount, 0)
	mu.Unlock()
}

func TestRetryFailureSurfacesAndGivesUp(t *testing.T) {
	p := &mockPersister{errs: []error{transientErr{true}, transientErr{true}}}
	errs := make(chan *SaveError, 1)
	s := NewScheduler(Options{
		Persister:  p,
		Debounce:   10 * time.Millisecond,
		RetryDelay: 10 * time.Millisecond,
		OnError:    func(err *SaveError) { errs <- err },
	})
	defer s.Stop()

	s.Schedule(domain.Note{ID: "n1", Content: "x"})

	select {
	case err := <-errs:
		assert.Equal(t, err.Retried, true)
		assert.Equal(t, err.Op, "update")
		var te transientErr
		assert.Equal(t, errors.As(err, &te), true)
	case <-time.After(2 * time.Second):
		t.Fatal("expected save error")
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, len(p.snapshot()), 2)
	assert.Equal(t, s.Status(), StatusUnsaved)

	// The next edit starts a fresh cycle.
	s.Schedule(domain.Note{ID: "n1", Content: "y"})
	waitFor(t, func() bool { return s.Status() == StatusSaved })
	assert.Equal(t, len(p.snapshot()), 3)
}

func TestNonTransientFailureNotRetried(t *testing.T) {
	p := &mockPersister{errs: []error{transientErr{false}}}
	errs := make(chan *SaveError, 1)
	s := NewScheduler(Options{
		Persister:  p,
		Debounce:   10 * time.Millisecond,
		RetryDelay: 10 * time.Millisecond,
		OnError:    func(err *SaveError) { errs <- err },
	})
	defer s.Stop()

	s.Schedule(draft("x"))

	select {
	case err := <-errs:
		assert.Equal(t, err.Retried, false)
		assert.Equal(t, err.Op, "create")
	case <-time.After(2 * time.Second):
		t.Fatal("expected save error")
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, len(p.snapshot()), 1)
	assert.Equal(t, s.CreatedID(), "")
}

func TestFlushSavesImmediately(t *testing.T) {
	p := &mockPersister{}
	s := NewScheduler(Options{Persister: p, Debounce: time.Hour})
	defer s.Stop()

	assert.Equal(t, s.Flush(context.Background()), nil)
	assert.Equal(t, len(p.snapshot()), 0)

	s.Schedule(domain.Note{ID: "n1", Content: "manual"})
	assert.Equal(t, s.Flush(context.Background()), nil)

	calls := p.snapshot()
	assert.Equal(t, len(calls), 1)
	assert.Equal(t, calls[0].note.Content, "manual")
	assert.Equal(t, s.Status(), StatusSaved)
}

func TestStopDiscardsPending(t *testing.T) {
	p := &mockPersister{}
	s := NewScheduler(Options{Persister: p, Debounce: 20 * time.Millisecond})

	s.Schedule(domain.Note{ID: "n1", Content: "x"})
	s.Stop()
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, len(p.snapshot()), 0)
	assert.Equal(t, s.Flush(context.Background()), ErrStopped)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "deadline", err: fmt.Errorf("wrapped: %w", context.DeadlineExceeded), want: true},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "declared transient", err: transientErr{true}, want: true},
		{name: "declared permanent", err: transientErr{false}, want: false},
		{name: "plain", err: errors.New("validation failed"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, IsTransient(tt.err), tt.want)
		})
	}
}
