// Package feed implements the change feeds behind repository
// subscriptions: an in-process fan-out for single-process deployments and
// an AMQP-backed one for push across processes.
package feed

import (
	"context"
	"sync"

	"spendtrack/internal/repository"
)

// Local is an in-process change feed. Delivery is synchronous with
// Publish, in subscriber registration order.
type Local struct {
	mu     sync.Mutex
	subs   map[int]localSub
	nextID int
	closed bool
}

type localSub struct {
	userID string
	fn     func(repository.Change)
}

func NewLocal() *Local {
	return &Local{subs: map[int]localSub{}}
}

func (l *Local) Publish(_ context.Context, change repository.Change) error {
	l.mu.Lock()
	fns := make([]func(repository.Change), 0, len(l.subs))
	for _, s := range l.subs {
		if s.userID == change.UserID {
			fns = append(fns, s.fn)
		}
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(change)
	}
	return nil
}

func (l *Local) Subscribe(_ context.Context, userID string, onChange func(repository.Change)) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	l.subs[id] = localSub{userID: userID, fn: onChange}
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.subs, id)
	}, nil
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = map[int]localSub{}
	l.closed = true
	return nil
}
