// Package localfile implements the expense repository on a single JSON
// file. It suits single-user desktop deployments where running a
// database or a remote API is overkill.
package localfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"spendtrack/internal/auth"
	"spendtrack/internal/core"
	"spendtrack/internal/feed"
	"spendtrack/internal/repository"
)

// Store keeps every expense in memory and mirrors each mutation to a
// JSON array on disk. Writes go through a temp file plus rename so a
// crash mid-write never corrupts the data file.
type Store struct {
	path string
	feed repository.ChangeFeed

	mu       sync.Mutex
	expenses []core.Expense

	subMu sync.Mutex
	subs  map[*auth.Session]func()
}

// New loads (or creates) the data file at path. A nil feed falls back to
// an in-process one.
func New(path string, changeFeed repository.ChangeFeed) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	if changeFeed == nil {
		changeFeed = feed.NewLocal()
	}
	s := &Store{
		path:     path,
		feed:     changeFeed,
		expenses: []core.Expense{},
		subs:     map[*auth.Session]func(){},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return &core.TransportError{Message: "read data file", Err: err}
	}
	if len(data) == 0 {
		return nil
	}
	var expenses []core.Expense
	if err := json.Unmarshal(data, &expenses); err != nil {
		return &core.TransportError{Message: "parse data file", Err: err}
	}
	s.expenses = expenses
	return nil
}

// persist writes the full set under s.mu.
func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.expenses, "", "  ")
	if err != nil {
		return &core.TransportError{Message: "encode data file", Err: err}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return &core.TransportError{Message: "write data file", Err: err}
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return &core.TransportError{Message: "replace data file", Err: err}
	}
	return nil
}

func (s *Store) ownerSlice(owner string) []core.Expense {
	out := make([]core.Expense, 0)
	for _, e := range s.expenses {
		if e.UserID == owner {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) List(_ context.Context, session *auth.Session) ([]core.Expense, error) {
	owner, err := repository.OwnerID(session)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ownerSlice(owner), nil
}

func (s *Store) Create(ctx context.Context, session *auth.Session, draft core.Expense) (core.Expense, error) {
	owner, err := repository.OwnerID(session)
	if err != nil {
		return core.Expense{}, err
	}
	if violations := draft.Validate(); len(violations) > 0 {
		return core.Expense{}, &core.ValidationError{Violations: violations}
	}

	expense := draft
	expense.ID = uuid.NewString()
	expense.UserID = owner
	expense.CreatedAt = time.Now().UTC().Format(time.RFC3339)

	s.mu.Lock()
	s.expenses = append(s.expenses, expense)
	if err := s.persist(); err != nil {
		s.expenses = s.expenses[:len(s.expenses)-1]
		s.mu.Unlock()
		return core.Expense{}, err
	}
	s.mu.Unlock()

	s.publish(ctx, repository.Change{UserID: owner, Op: repository.OpCreated, ExpenseID: expense.ID})
	return expense, nil
}

func (s *Store) Update(ctx context.Context, session *auth.Session, expense core.Expense) (core.Expense, error) {
	owner, err := repository.OwnerID(session)
	if err != nil {
		return core.Expense{}, err
	}
	if violations := expense.Validate(); len(violations) > 0 {
		return core.Expense{}, &core.ValidationError{Violations: violations}
	}

	s.mu.Lock()
	idx := -1
	for i, e := range s.expenses {
		if e.ID == expense.ID && e.UserID == owner {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return core.Expense{}, core.ErrNotFound
	}
	prev := s.expenses[idx]
	// id, owner and creation time are immutable
	expense.UserID = prev.UserID
	expense.CreatedAt = prev.CreatedAt
	s.expenses[idx] = expense
	if err := s.persist(); err != nil {
		s.expenses[idx] = prev
		s.mu.Unlock()
		return core.Expense{}, err
	}
	s.mu.Unlock()

	s.publish(ctx, repository.Change{UserID: owner, Op: repository.OpUpdated, ExpenseID: expense.ID})
	return expense, nil
}

func (s *Store) Delete(ctx context.Context, session *auth.Session, id string) error {
	owner, err := repository.OwnerID(session)
	if err != nil {
		return err
	}

	s.mu.Lock()
	idx := -1
	for i, e := range s.expenses {
		if e.ID == id && e.UserID == owner {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return core.ErrNotFound
	}
	prev := s.expenses
	s.expenses = append(append([]core.Expense{}, prev[:idx]...), prev[idx+1:]...)
	if err := s.persist(); err != nil {
		s.expenses = prev
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.publish(ctx, repository.Change{UserID: owner, Op: repository.OpDeleted, ExpenseID: id})
	return nil
}

func (s *Store) DeleteAll(ctx context.Context, session *auth.Session) error {
	owner, err := repository.OwnerID(session)
	if err != nil {
		return err
	}

	s.mu.Lock()
	prev := s.expenses
	kept := make([]core.Expense, 0, len(prev))
	for _, e := range prev {
		if e.UserID != owner {
			kept = append(kept, e)
		}
	}
	s.expenses = kept
	if err := s.persist(); err != nil {
		s.expenses = prev
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.publish(ctx, repository.Change{UserID: owner, Op: repository.OpCleared})
	return nil
}

// Subscribe delivers the owner's full set immediately and after every
// change. One subscription per session.
func (s *Store) Subscribe(ctx context.Context, session *auth.Session, onChange func([]core.Expense)) (repository.Unsubscribe, error) {
	owner, err := repository.OwnerID(session)
	if err != nil {
		return nil, err
	}

	s.subMu.Lock()
	if prior, ok := s.subs[session]; ok {
		delete(s.subs, session)
		s.subMu.Unlock()
		prior()
		s.subMu.Lock()
	}
	s.subMu.Unlock()

	var deliverMu sync.Mutex
	deliver := func() {
		deliverMu.Lock()
		defer deliverMu.Unlock()
		s.mu.Lock()
		current := s.ownerSlice(owner)
		s.mu.Unlock()
		onChange(current)
	}

	off, err := s.feed.Subscribe(ctx, owner, func(repository.Change) { deliver() })
	if err != nil {
		return nil, &core.TransportError{Message: "subscribe to change feed", Err: err}
	}

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			off()
			s.subMu.Lock()
			delete(s.subs, session)
			s.subMu.Unlock()
		})
	}

	s.subMu.Lock()
	s.subs[session] = unsub
	s.subMu.Unlock()

	deliver()
	return unsub, nil
}

func (s *Store) publish(ctx context.Context, change repository.Change) {
	// Local feed publish cannot fail; kept for ChangeFeed symmetry.
	_ = s.feed.Publish(ctx, change)
}

func (s *Store) Close() error {
	s.subMu.Lock()
	subs := make([]func(), 0, len(s.subs))
	for session, unsub := range s.subs {
		delete(s.subs, session)
		subs = append(subs, unsub)
	}
	s.subMu.Unlock()
	for _, unsub := range subs {
		unsub()
	}
	return nil
}
