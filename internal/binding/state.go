package binding

import (
	"sync"

	"github.com/jamesprial/effectql/internal/classify"
	"github.com/jamesprial/effectql/internal/graphql"
)

// Cells is the write side of the state observed by a UI binding. The bridge
// is its only writer.
type Cells[T any] interface {
	SetLoading(bool)
	SetError(classify.Error)
	SetData(*T)
	SetStale(bool)
	SetResult(*graphql.OperationResult)
}

// Flusher is implemented by cells that want to be told when a complete
// state transition has been written.
type Flusher interface {
	Flush()
}

// Snapshot is a consistent copy of a State.
type Snapshot[T any] struct {
	Loading bool
	Error   classify.Error
	Data    *T
	Stale   bool
	Result  *graphql.OperationResult
}

// State is a concurrency-safe Cells implementation with getters and change
// notification.
type State[T any] struct {
	mu        sync.RWMutex
	snap      Snapshot[T]
	nextID    int
	observers map[int]func(Snapshot[T])
}

var (
	_ Cells[any] = (*State[any])(nil)
	_ Flusher    = (*State[any])(nil)
)

// NewState returns an empty State.
func NewState[T any]() *State[T] {
	return &State[T]{observers: make(map[int]func(Snapshot[T]))}
}

func (s *State[T]) SetLoading(v bool) {
	s.mu.Lock()
	s.snap.Loading = v
	s.mu.Unlock()
}

func (s *State[T]) SetError(err classify.Error) {
	s.mu.Lock()
	s.snap.Error = err
	s.mu.Unlock()
}

func (s *State[T]) SetData(d *T) {
	s.mu.Lock()
	s.snap.Data = d
	s.mu.Unlock()
}

func (s *State[T]) SetStale(v bool) {
	s.mu.Lock()
	s.snap.Stale = v
	s.mu.Unlock()
}

func (s *State[T]) SetResult(r *graphql.OperationResult) {
	s.mu.Lock()
	s.snap.Result = r
	s.mu.Unlock()
}

// Flush notifies observers with the current snapshot.
func (s *State[T]) Flush() {
	s.mu.RLock()
	snap := s.snap
	fns := make([]func(Snapshot[T]), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(snap)
	}
}

// OnChange registers fn to be called after every state transition.
func (s *State[T]) OnChange(fn func(Snapshot[T])) (unsubscribe func()) {
	s.mu.Lock()
	if s.observers == nil {
		s.observers = make(map[int]func(Snapshot[T]))
	}
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// Snapshot returns a copy of the current state.
func (s *State[T]) Snapshot() Snapshot[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *State[T]) Loading() bool { return s.Snapshot().Loading }

func (s *State[T]) Error() classify.Error { return s.Snapshot().Error }

func (s *State[T]) Data() *T { return s.Snapshot().Data }

func (s *State[T]) Stale() bool { return s.Snapshot().Stale }

// Result returns the last transport result applied to the state.
func (s *State[T]) Result() *graphql.OperationResult { return s.Snapshot().Result }
