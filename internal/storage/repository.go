// Package storage implements the SQLite-backed expense repository and
// user store.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"spendtrack/internal/auth"
	"spendtrack/internal/core"
	"spendtrack/internal/feed"
	"spendtrack/internal/repository"
)

type SQLiteRepository struct {
	db   *sql.DB
	feed repository.ChangeFeed

	subMu sync.Mutex
	subs  map[*auth.Session]func()
}

// NewSQLiteRepository opens (creating if needed) the database at dbPath,
// runs migrations, and wires the given change feed. A nil feed falls back
// to an in-process one.
func NewSQLiteRepository(dbPath string, changeFeed repository.ChangeFeed) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if changeFeed == nil {
		changeFeed = feed.NewLocal()
	}

	return &SQLiteRepository{
		db:   db,
		feed: changeFeed,
		subs: map[*auth.Session]func(){},
	}, nil
}

func (r *SQLiteRepository) Close() error {
	r.subMu.Lock()
	for session, unsub := range r.subs {
		delete(r.subs, session)
		defer unsub()
	}
	r.subMu.Unlock()
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context, session *auth.Session) ([]core.Expense, error) {
	owner, err := repository.OwnerID(session)
	if err != nil {
		return nil, err
	}
	return r.listByOwner(ctx, owner)
}

func (r *SQLiteRepository) listByOwner(ctx context.Context, owner string) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, title, amount_cents, date, category, payment_method, created_at
		 FROM expenses WHERE user_id = ? ORDER BY created_at, id`, owner)
	if err != nil {
		return nil, &core.TransportError{Message: "list expenses", Err: err}
	}
	defer rows.Close()

	expenses := []core.Expense{}
	index := map[string]int{}
	for rows.Next() {
		var e core.Expense
		if err := rows.Scan(&e.ID, &e.UserID, &e.Title, &e.Amount.Cents, &e.Date,
			&e.Category, &e.PaymentMethod, &e.CreatedAt); err != nil {
			return nil, &core.TransportError{Message: "scan expense", Err: err}
		}
		e.SharedWith = []core.Share{}
		index[e.ID] = len(expenses)
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.TransportError{Message: "list expenses", Err: err}
	}

	shareRows, err := r.db.QueryContext(ctx,
		`SELECT s.expense_id, s.user_id, s.name, s.share_cents
		 FROM expense_shares s JOIN expenses e ON e.id = s.expense_id
		 WHERE e.user_id = ? ORDER BY s.expense_id, s.position`, owner)
	if err != nil {
		return nil, &core.TransportError{Message: "list shares", Err: err}
	}
	defer shareRows.Close()

	for shareRows.Next() {
		var expenseID string
		var s core.Share
		if err := shareRows.Scan(&expenseID, &s.UserID, &s.Name, &s.Share.Cents); err != nil {
			return nil, &core.TransportError{Message: "scan share", Err: err}
		}
		if i, ok := index[expenseID]; ok {
			expenses[i].SharedWith = append(expenses[i].SharedWith, s)
		}
	}
	if err := shareRows.Err(); err != nil {
		return nil, &core.TransportError{Message: "list shares", Err: err}
	}

	return expenses, nil
}

func (r *SQLiteRepository) Create(ctx context.Context, session *auth.Session, draft core.Expense) (core.Expense, error) {
	owner, err := repository.OwnerID(session)
	if err != nil {
		return core.Expense{}, err
	}
	if violations := draft.Validate(); len(violations) > 0 {
		return core.Expense{}, &core.ValidationError{Violations: violations}
	}

	draft.ID = uuid.NewString()
	draft.UserID = owner
	if draft.CreatedAt == "" {
		draft.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if draft.SharedWith == nil {
		draft.SharedWith = []core.Share{}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Expense{}, &core.TransportError{Message: "begin tx", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO expenses (id, user_id, title, amount_cents, date, category, payment_method, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		draft.ID, draft.UserID, draft.Title, draft.Amount.Cents, draft.Date,
		draft.Category, draft.PaymentMethod, draft.CreatedAt); err != nil {
		return core.Expense{}, &core.TransportError{Message: "insert expense", Err: err}
	}
	if err := insertShares(ctx, tx, draft.ID, draft.SharedWith); err != nil {
		return core.Expense{}, err
	}
	if err := tx.Commit(); err != nil {
		return core.Expense{}, &core.TransportError{Message: "commit", Err: err}
	}

	slog.InfoContext(ctx, "Expense saved",
		"expense_id", draft.ID,
		"user_id", owner,
		"title", draft.Title,
		"amount_cents", draft.Amount.Cents)

	r.publish(ctx, repository.Change{UserID: owner, Op: repository.OpCreated, ExpenseID: draft.ID})
	return draft, nil
}

func (r *SQLiteRepository) Update(ctx context.Context, session *auth.Session, expense core.Expense) (core.Expense, error) {
	owner, err := repository.OwnerID(session)
	if err != nil {
		return core.Expense{}, err
	}
	if violations := expense.Validate(); len(violations) > 0 {
		return core.Expense{}, &core.ValidationError{Violations: violations}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Expense{}, &core.TransportError{Message: "begin tx", Err: err}
	}
	defer tx.Rollback()

	// id, userId and createdAt are immutable; only the mutable fields are
	// overwritten.
	var createdAt string
	err = tx.QueryRowContext(ctx,
		`SELECT created_at FROM expenses WHERE id = ? AND user_id = ?`,
		expense.ID, owner).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, core.ErrNotFound
	}
	if err != nil {
		return core.Expense{}, &core.TransportError{Message: "lookup expense", Err: err}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE expenses SET title = ?, amount_cents = ?, date = ?, category = ?, payment_method = ?
		 WHERE id = ? AND user_id = ?`,
		expense.Title, expense.Amount.Cents, expense.Date, expense.Category,
		expense.PaymentMethod, expense.ID, owner); err != nil {
		return core.Expense{}, &core.TransportError{Message: "update expense", Err: err}
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM expense_shares WHERE expense_id = ?`, expense.ID); err != nil {
		return core.Expense{}, &core.TransportError{Message: "clear shares", Err: err}
	}
	if expense.SharedWith == nil {
		expense.SharedWith = []core.Share{}
	}
	if err := insertShares(ctx, tx, expense.ID, expense.SharedWith); err != nil {
		return core.Expense{}, err
	}
	if err := tx.Commit(); err != nil {
		return core.Expense{}, &core.TransportError{Message: "commit", Err: err}
	}

	expense.UserID = owner
	expense.CreatedAt = createdAt

	r.publish(ctx, repository.Change{UserID: owner, Op: repository.OpUpdated, ExpenseID: expense.ID})
	return expense, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, session *auth.Session, id string) error {
	owner, err := repository.OwnerID(session)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM expenses WHERE id = ? AND user_id = ?`, id, owner)
	if err != nil {
		return &core.TransportError{Message: "delete expense", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return &core.TransportError{Message: "delete expense", Err: err}
	}
	if affected == 0 {
		return core.ErrNotFound
	}
	// Shares cascade via the schema; keep a belt-and-braces delete for
	// connections without foreign keys enabled.
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM expense_shares WHERE expense_id = ?`, id); err != nil {
		return &core.TransportError{Message: "delete shares", Err: err}
	}

	r.publish(ctx, repository.Change{UserID: owner, Op: repository.OpDeleted, ExpenseID: id})
	return nil
}

func (r *SQLiteRepository) DeleteAll(ctx context.Context, session *auth.Session) error {
	owner, err := repository.OwnerID(session)
	if err != nil {
		return err
	}

	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM expense_shares WHERE expense_id IN (SELECT id FROM expenses WHERE user_id = ?)`,
		owner); err != nil {
		return &core.TransportError{Message: "clear shares", Err: err}
	}
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM expenses WHERE user_id = ?`, owner); err != nil {
		return &core.TransportError{Message: "clear expenses", Err: err}
	}

	slog.InfoContext(ctx, "Cleared all expenses", "user_id", owner)
	r.publish(ctx, repository.Change{UserID: owner, Op: repository.OpCleared})
	return nil
}

// Subscribe delivers the owner's full set immediately and again after
// every change. One subscription per session: attaching again first
// releases the previous one.
func (r *SQLiteRepository) Subscribe(ctx context.Context, session *auth.Session, onChange func([]core.Expense)) (repository.Unsubscribe, error) {
	owner, err := repository.OwnerID(session)
	if err != nil {
		return nil, err
	}

	r.subMu.Lock()
	if prior, ok := r.subs[session]; ok {
		delete(r.subs, session)
		r.subMu.Unlock()
		prior()
		r.subMu.Lock()
	}
	r.subMu.Unlock()

	var deliverMu sync.Mutex
	deliver := func() {
		deliverMu.Lock()
		defer deliverMu.Unlock()
		expenses, err := r.listByOwner(ctx, owner)
		if err != nil {
			slog.ErrorContext(ctx, "Subscription refresh failed", "user_id", owner, "error", err)
			return
		}
		onChange(expenses)
	}

	initial, err := r.listByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}

	off, err := r.feed.Subscribe(ctx, owner, func(repository.Change) { deliver() })
	if err != nil {
		return nil, &core.TransportError{Message: "subscribe to change feed", Err: err}
	}

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			off()
			r.subMu.Lock()
			delete(r.subs, session)
			r.subMu.Unlock()
		})
	}

	r.subMu.Lock()
	r.subs[session] = unsub
	r.subMu.Unlock()

	onChange(initial)
	return unsub, nil
}

func (r *SQLiteRepository) publish(ctx context.Context, change repository.Change) {
	if err := r.feed.Publish(ctx, change); err != nil {
		// The mutation already committed; a lost event only delays
		// subscribers until the next refresh.
		slog.ErrorContext(ctx, "Failed to publish change event",
			"user_id", change.UserID, "op", change.Op, "error", err)
	}
}

func insertShares(ctx context.Context, tx *sql.Tx, expenseID string, shares []core.Share) error {
	for i, s := range shares {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO expense_shares (expense_id, position, user_id, name, share_cents)
			 VALUES (?, ?, ?, ?, ?)`,
			expenseID, i, s.UserID, s.Name, s.Share.Cents); err != nil {
			return &core.TransportError{Message: "insert share", Err: err}
		}
	}
	return nil
}

// --- auth.UserStore ---

func (r *SQLiteRepository) CreateUser(ctx context.Context, user core.User, passwordHash string) (core.User, error) {
	createdAt := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, display_name, profile_picture, password_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.Name, user.ProfilePicture, passwordHash, createdAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return core.User{}, auth.ErrDuplicateEmail
		}
		return core.User{}, &core.TransportError{Message: "create user", Err: err}
	}
	return user, nil
}

func (r *SQLiteRepository) GetUserByEmail(ctx context.Context, email string) (core.User, string, error) {
	var u core.User
	var hash string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, profile_picture, password_hash FROM users WHERE email = ?`,
		email).Scan(&u.ID, &u.Email, &u.Name, &u.ProfilePicture, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, "", core.ErrNotFound
	}
	if err != nil {
		return core.User{}, "", &core.TransportError{Message: "get user", Err: err}
	}
	return u, hash, nil
}

func (r *SQLiteRepository) GetUserByID(ctx context.Context, id string) (core.User, error) {
	var u core.User
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, profile_picture FROM users WHERE id = ?`,
		id).Scan(&u.ID, &u.Email, &u.Name, &u.ProfilePicture)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.ErrNotFound
	}
	if err != nil {
		return core.User{}, &core.TransportError{Message: "get user", Err: err}
	}
	return u, nil
}

func (r *SQLiteRepository) ListUsers(ctx context.Context) ([]core.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, email, display_name, profile_picture FROM users ORDER BY email`)
	if err != nil {
		return nil, &core.TransportError{Message: "list users", Err: err}
	}
	defer rows.Close()

	users := []core.User{}
	for rows.Next() {
		var u core.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.ProfilePicture); err != nil {
			return nil, &core.TransportError{Message: "scan user", Err: err}
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.TransportError{Message: "list users", Err: err}
	}
	return users, nil
}
