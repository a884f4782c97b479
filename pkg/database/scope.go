package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the statement surface shared by a pooled connection and a transaction.
// Begin on a transaction opens a savepoint.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Scope holds the storage handle of one public operation.
type Scope struct {
	Conn Querier
}

type contextKey string

// ScopeKey is the context key for storing the scoped database handle.
const ScopeKey contextKey = "dbScope"

// ErrNoScope is returned by repositories called outside an acquired scope.
var ErrNoScope = errors.New("no database scope in context")

// GetScope retrieves the scoped database handle from context.
// Returns nil and false if not present.
func GetScope(ctx context.Context) (*Scope, bool) {
	scope, ok := ctx.Value(ScopeKey).(*Scope)
	return scope, ok && scope != nil && scope.Conn != nil
}

// SetScope stores the scoped database handle in context.
func SetScope(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, ScopeKey, scope)
}

// Scoped returns a context carrying a storage handle for the duration of one call.
// When ctx already carries a scope it is reused and release is a no-op; otherwise a
// pooled connection is acquired and release returns it to the pool.
// The release function MUST be called, typically with defer.
func (db *DB) Scoped(ctx context.Context) (context.Context, func(), error) {
	if _, ok := GetScope(ctx); ok {
		return ctx, func() {}, nil
	}

	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return SetScope(ctx, &Scope{Conn: conn}), conn.Release, nil
}

// InTx runs fn inside a transaction on the scope carried by ctx, acquiring one
// first when needed. fn receives a context whose scope is the transaction, so
// repositories called from fn join it. The transaction commits when fn returns nil
// and rolls back otherwise.
func (db *DB) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, release, err := db.Scoped(ctx)
	if err != nil {
		return err
	}
	defer release()

	return WithTx(ctx, fn)
}

// WithTx is InTx for a context that already carries a scope.
func WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	scope, ok := GetScope(ctx)
	if !ok {
		return ErrNoScope
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(SetScope(ctx, &Scope{Conn: tx})); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UniqueViolation is the PostgreSQL SQLSTATE for a unique constraint violation.
const UniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == UniqueViolation
}
