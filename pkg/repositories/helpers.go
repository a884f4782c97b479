package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stingnet/sting-engine/pkg/apperrors"
	"github.com/stingnet/sting-engine/pkg/database"
)

// Outcome reports how a get-or-create call resolved.
type Outcome string

const (
	// Existing means the key was found by the initial lookup.
	Existing Outcome = "existing"
	// Created means this call inserted the row.
	Created Outcome = "created"
	// Conflict means a concurrent writer inserted the key first and the row was re-read.
	Conflict Outcome = "conflict"
)

// maxConflictRetries bounds the insert/re-read loop of getOrCreate.
const maxConflictRetries = 3

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// getOrCreate returns the id of the row matching a unique key, inserting it when
// absent. The insert runs in a nested transaction (a savepoint when q is already a
// transaction) so a unique violation raised by a concurrent writer can be rolled
// back and resolved by re-reading the winner's row.
func getOrCreate(
	ctx context.Context,
	q database.Querier,
	lookup func(ctx context.Context, q database.Querier) (int64, error),
	insert func(ctx context.Context, q database.Querier) (int64, error),
) (int64, Outcome, error) {
	id, err := lookup(ctx, q)
	if err == nil {
		return id, Existing, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return 0, "", err
	}

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		id, err = insertOnce(ctx, q, insert)
		if err == nil {
			return id, Created, nil
		}
		if !errors.Is(err, apperrors.ErrConflict) {
			return 0, "", err
		}

		id, err = lookup(ctx, q)
		if err == nil {
			return id, Conflict, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return 0, "", err
		}
		// The conflicting row is not visible yet; try the insert again.
	}
	return 0, "", fmt.Errorf("get-or-create did not converge after %d attempts: %w", maxConflictRetries, apperrors.ErrConflict)
}

// insertOnce runs insert inside a savepoint and maps unique violations to ErrConflict.
func insertOnce(
	ctx context.Context,
	q database.Querier,
	insert func(ctx context.Context, q database.Querier) (int64, error),
) (int64, error) {
	sp, err := q.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin insert: %w", err)
	}
	defer sp.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	id, err := insert(ctx, sp)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return 0, apperrors.ErrConflict
		}
		return 0, err
	}
	if err := sp.Commit(ctx); err != nil {
		if database.IsUniqueViolation(err) {
			return 0, apperrors.ErrConflict
		}
		return 0, fmt.Errorf("failed to commit insert: %w", err)
	}
	return id, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds an ILIKE pattern matching q as a literal substring.
func containsPattern(q string) string {
	return "%" + likeEscaper.Replace(q) + "%"
}

// limitArg maps a non-positive limit to NULL, which PostgreSQL treats as no limit.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

// cleanText makes attacker supplied text storable: PostgreSQL text rejects
// NUL bytes and invalid UTF-8.
func cleanText(s string) string {
	return strings.ToValidUTF8(strings.ReplaceAll(s, "\x00", ""), "\uFFFD")
}

func cleanTextPtr(s *string) *string {
	if s == nil {
		return nil
	}
	c := cleanText(*s)
	return &c
}

// nullString maps the empty string to NULL.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// countRows runs a single-value COUNT query on the scope in ctx.
func countRows(ctx context.Context, what, query string, args ...any) (int64, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, database.ErrNoScope
	}

	var n int64
	if err := scope.Conn.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", what, err)
	}
	return n, nil
}
