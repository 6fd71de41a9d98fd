// Package repository defines the persistence abstraction for expense
// records. Implementations (sqlite, rest, local file) are selected once
// at startup via the backend factory and hidden behind ExpenseRepository.
package repository

import (
	"context"

	"spendtrack/internal/auth"
	"spendtrack/internal/core"
)

// Unsubscribe releases an active subscription. Safe to call more than
// once.
type Unsubscribe func()

// ExpenseRepository provides durable CRUD for expense records scoped to
// the authenticated user. Every operation fails with
// core.ErrUnauthenticated when the session carries no identity, and with
// *core.TransportError on network or store failure.
//
// The repository is the single source of truth: every mutation is
// reflected back through List and Subscribe. When a subscription is
// active, the set it delivers wins over a mutation's return value for
// display purposes.
type ExpenseRepository interface {
	// List returns the current full set of the owner's expenses.
	List(ctx context.Context, session *auth.Session) ([]core.Expense, error)

	// Create validates the draft, then assigns id and createdAt and
	// persists it. Validation failure surfaces as *core.ValidationError
	// before any I/O is attempted.
	Create(ctx context.Context, session *auth.Session, draft core.Expense) (core.Expense, error)

	// Update revalidates the full record and overwrites all mutable
	// fields. Fails with core.ErrNotFound when the id does not exist in
	// the owner's partition.
	Update(ctx context.Context, session *auth.Session, expense core.Expense) (core.Expense, error)

	// Delete removes the record; core.ErrNotFound when the id does not
	// exist.
	Delete(ctx context.Context, session *auth.Session, id string) error

	// DeleteAll wipes the owner's partition. This is the explicit
	// destructive "clear all data" action, distinct from a store reset.
	DeleteAll(ctx context.Context, session *auth.Session) error

	// Subscribe delivers the full current set on attach and again after
	// every change to the owner's partition, until the handle is
	// released. At most one subscription is active per session;
	// establishing a new one first tears down the prior one.
	Subscribe(ctx context.Context, session *auth.Session, onChange func([]core.Expense)) (Unsubscribe, error)
}

// OwnerID resolves the partition owner from the session, failing with
// core.ErrUnauthenticated when no identity is attached. Every backend
// gates its operations through this.
func OwnerID(session *auth.Session) (string, error) {
	if session == nil || !session.IsAuthenticated() {
		return "", core.ErrUnauthenticated
	}
	return session.CurrentUserID(), nil
}

type ChangeOp string

const (
	OpCreated ChangeOp = "created"
	OpUpdated ChangeOp = "updated"
	OpDeleted ChangeOp = "deleted"
	OpCleared ChangeOp = "cleared"
)

// Change describes a server-side mutation of one owner's partition.
type Change struct {
	UserID    string   `json:"userId"`
	Op        ChangeOp `json:"op"`
	ExpenseID string   `json:"expenseId,omitempty"`
}

// ChangeFeed fans mutation events out to subscribers. The AMQP feed makes
// a backend push-capable; the process-local feed covers single-process
// deployments.
type ChangeFeed interface {
	Publish(ctx context.Context, change Change) error
	// Subscribe delivers changes for the given owner until the returned
	// func is called.
	Subscribe(ctx context.Context, userID string, onChange func(Change)) (func(), error)
	Close() error
}
