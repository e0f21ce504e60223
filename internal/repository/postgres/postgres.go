// Package postgres implements the repository interfaces over pgx.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gravitational/trace"

	"github.com/stackbound/varstore/internal/db"
	"github.com/stackbound/varstore/internal/repository"
)

// querier is the subset of pgx satisfied by both the pool and a transaction,
// so every repository can run inside or outside a transaction unchanged.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store hands out repositories bound to the pool, and transaction-bound
// bundles through InTx.
type Store struct {
	conn *db.Connection
}

// NewStore creates a postgres-backed store.
func NewStore(conn *db.Connection) *Store {
	return &Store{conn: conn}
}

// Repositories returns pool-bound repository implementations.
func (s *Store) Repositories() repository.Repositories {
	return bind(s.conn.Pool)
}

// InTx runs fn with repositories bound to a single transaction.
func (s *Store) InTx(ctx context.Context, fn func(repository.Repositories) error) error {
	return s.conn.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(bind(tx))
	})
}

func bind(q querier) repository.Repositories {
	return repository.Repositories{
		Entities:   &entityRepository{q: q},
		Values:     &valueRepository{q: q},
		Changesets: &changesetRepository{q: q},
		Grants:     &grantRepository{q: q},
		Directory:  &directoryRepository{q: q},
		Variations: &variationRepository{q: q},
	}
}

const uniqueViolation = "23505"

// convertError maps pgx errors onto the shared error taxonomy.
func convertError(err error, notFoundMsg string, args ...any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return trace.NotFound(notFoundMsg, args...)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return trace.AlreadyExists("duplicate row: %s", pgErr.ConstraintName)
	}
	return trace.Wrap(err)
}
