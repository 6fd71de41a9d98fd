// Package store holds the in-memory expense cache that mirrors the
// repository for synchronous reads. Every mutation goes through the
// repository first; the local collection only changes after the backend
// confirms.
package store

import (
	"context"
	"encoding/json"
	"sync"

	"golang.org/x/sync/errgroup"

	"spendtrack/internal/auth"
	"spendtrack/internal/core"
	"spendtrack/internal/repository"
)

// State describes the cache lifecycle.
type State string

const (
	StateEmpty   State = "empty"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

// Snapshot is the observable cache state handed to update listeners.
type Snapshot struct {
	State    State
	Expenses []core.Expense
	Err      error
}

// Store mirrors one session's expense partition. Reads are synchronous;
// mutations delegate to the repository and apply locally only after it
// confirms. Mutations are serialized per store instance so rapid
// add/delete sequences cannot interleave partial updates.
type Store struct {
	repo    repository.ExpenseRepository
	session *auth.Session

	// mutMu serializes mutations; it is never held while stateMu is.
	mutMu sync.Mutex

	stateMu   sync.Mutex
	state     State
	expenses  []core.Expense
	lastErr   error
	unsub     repository.Unsubscribe
	listeners map[int]func(Snapshot)
	nextID    int

	offSession func()
}

// New builds a store bound to the given session. Login re-primes the
// cache for the new identity; logout tears the subscription down and
// clears it, so one user's records never linger into another's view.
func New(repo repository.ExpenseRepository, session *auth.Session) *Store {
	s := &Store{
		repo:      repo,
		session:   session,
		state:     StateEmpty,
		expenses:  []core.Expense{},
		listeners: map[int]func(Snapshot){},
	}
	s.offSession = session.OnChange(func(ev auth.Event) {
		switch ev.Type {
		case auth.EventLogout:
			s.Reset()
		case auth.EventLogin:
			s.Reset()
			// Ignore the error here: it is already captured as store
			// state and a screen can retry via Refresh.
			_ = s.Refresh(context.Background())
		}
	})
	return s
}

// Refresh (re)establishes the repository subscription and loads the
// current set. The first delivery moves the store to Ready; failure
// moves it to Error and returns the error.
func (s *Store) Refresh(ctx context.Context) error {
	s.mutMu.Lock()
	defer s.mutMu.Unlock()

	s.stateMu.Lock()
	if s.unsub != nil {
		prior := s.unsub
		s.unsub = nil
		s.stateMu.Unlock()
		prior()
		s.stateMu.Lock()
	}
	s.state = StateLoading
	s.lastErr = nil
	s.stateMu.Unlock()
	s.notify()

	unsub, err := s.repo.Subscribe(ctx, s.session, s.applySet)
	if err != nil {
		s.fail(err)
		return err
	}

	s.stateMu.Lock()
	s.unsub = unsub
	s.stateMu.Unlock()
	return nil
}

// applySet replaces the collection with the repository's current set.
// It is the subscription delivery path.
func (s *Store) applySet(expenses []core.Expense) {
	s.stateMu.Lock()
	s.expenses = append([]core.Expense{}, expenses...)
	s.state = StateReady
	s.lastErr = nil
	s.stateMu.Unlock()
	s.notify()
}

func (s *Store) fail(err error) {
	s.stateMu.Lock()
	s.state = StateError
	s.lastErr = err
	s.stateMu.Unlock()
	s.notify()
}

// Add validates and persists the draft, then inserts the confirmed
// record locally.
func (s *Store) Add(ctx context.Context, draft core.Expense) (core.Expense, error) {
	s.mutMu.Lock()
	defer s.mutMu.Unlock()

	created, err := s.repo.Create(ctx, s.session, draft)
	if err != nil {
		s.captureErr(err)
		return core.Expense{}, err
	}
	s.upsertLocal(created)
	return created, nil
}

// Update persists the changed record, then replaces it locally.
func (s *Store) Update(ctx context.Context, expense core.Expense) (core.Expense, error) {
	s.mutMu.Lock()
	defer s.mutMu.Unlock()

	updated, err := s.repo.Update(ctx, s.session, expense)
	if err != nil {
		s.captureErr(err)
		return core.Expense{}, err
	}
	s.upsertLocal(updated)
	return updated, nil
}

// Remove deletes the record remotely, then locally.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mutMu.Lock()
	defer s.mutMu.Unlock()

	if err := s.repo.Delete(ctx, s.session, id); err != nil {
		s.captureErr(err)
		return err
	}
	s.stateMu.Lock()
	kept := s.expenses[:0:0]
	for _, e := range s.expenses {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	s.expenses = kept
	s.stateMu.Unlock()
	s.notify()
	return nil
}

// RemoveAll is the explicit destructive "clear all data" action: it
// deletes the owner's remote partition, unlike Reset.
func (s *Store) RemoveAll(ctx context.Context) error {
	s.mutMu.Lock()
	defer s.mutMu.Unlock()

	if err := s.repo.DeleteAll(ctx, s.session); err != nil {
		s.captureErr(err)
		return err
	}
	s.stateMu.Lock()
	s.expenses = []core.Expense{}
	s.stateMu.Unlock()
	s.notify()
	return nil
}

// Export serializes the current collection as a JSON array. Pure: no
// repository call.
func (s *Store) Export() ([]byte, error) {
	return json.MarshalIndent(s.Expenses(), "", "  ")
}

// importConcurrency bounds parallel creates during Import.
const importConcurrency = 4

// Import parses a JSON array of expenses and re-persists each record as
// an independent create, dropping the original ids to avoid collisions.
// Repeated imports therefore duplicate records. A parse failure is
// captured as store-level error state and not returned; persistence
// failures are returned.
func (s *Store) Import(ctx context.Context, data []byte) error {
	var incoming []core.Expense
	if err := json.Unmarshal(data, &incoming); err != nil {
		s.fail(&core.TransportError{Message: "parse import file", Err: err})
		return nil
	}

	s.mutMu.Lock()
	defer s.mutMu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(importConcurrency)
	created := make([]core.Expense, len(incoming))
	for i, exp := range incoming {
		draft := exp
		draft.ID = ""
		draft.CreatedAt = ""
		idx := i
		g.Go(func() error {
			rec, err := s.repo.Create(gctx, s.session, draft)
			if err != nil {
				return err
			}
			created[idx] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.captureErr(err)
		return err
	}

	s.stateMu.Lock()
	s.expenses = created
	s.state = StateReady
	s.lastErr = nil
	s.stateMu.Unlock()
	s.notify()
	return nil
}

// Reset clears the local collection and any cached error without
// touching remote data, and releases the active subscription. Refresh
// re-primes the cache.
func (s *Store) Reset() {
	s.stateMu.Lock()
	prior := s.unsub
	s.unsub = nil
	s.expenses = []core.Expense{}
	s.state = StateEmpty
	s.lastErr = nil
	s.stateMu.Unlock()
	if prior != nil {
		prior()
	}
	s.notify()
}

// Expenses returns a copy of the current collection.
func (s *Store) Expenses() []core.Expense {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return append([]core.Expense{}, s.expenses...)
}

func (s *Store) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// Err returns the last captured failure, nil once a refresh or delivery
// succeeds.
func (s *Store) Err() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.lastErr
}

// OnUpdate registers a listener called with a snapshot after every state
// or collection change. Returns a removal func.
func (s *Store) OnUpdate(fn func(Snapshot)) func() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.stateMu.Lock()
		defer s.stateMu.Unlock()
		delete(s.listeners, id)
	}
}

// Dispose releases the subscription and the session listener. The store
// must not be used afterwards.
func (s *Store) Dispose() {
	if s.offSession != nil {
		s.offSession()
		s.offSession = nil
	}
	s.Reset()
}

// upsertLocal inserts or replaces by id. The subscription may already
// have delivered the record, so blind appends would duplicate it.
func (s *Store) upsertLocal(expense core.Expense) {
	s.stateMu.Lock()
	replaced := false
	for i, e := range s.expenses {
		if e.ID == expense.ID {
			s.expenses[i] = expense
			replaced = true
			break
		}
	}
	if !replaced {
		s.expenses = append(s.expenses, expense)
	}
	s.stateMu.Unlock()
	s.notify()
}

// captureErr records a mutation failure as observable state while the
// collection keeps its last good contents.
func (s *Store) captureErr(err error) {
	s.stateMu.Lock()
	s.lastErr = err
	s.stateMu.Unlock()
	s.notify()
}

func (s *Store) notify() {
	s.stateMu.Lock()
	snap := Snapshot{
		State:    s.state,
		Expenses: append([]core.Expense{}, s.expenses...),
		Err:      s.lastErr,
	}
	fns := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.stateMu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}
