// Package postgres implements core.Store on PostgreSQL. Every compound
// operation runs inside one transaction carried through the context.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"retail-ledger/internal/core"
)

type Store struct {
	pool *pgxpool.Pool
}

var _ core.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type rowScanner interface {
	Scan(dest ...any) error
}

type txKey struct{}

func (s *Store) q(ctx context.Context) pgxQuerier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}

func (s *Store) SupportsAtomicTransactions() bool { return true }

// RunInTx joins the transaction already in ctx, or begins one that commits
// when fn returns nil.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return dbErr("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return dbErr("commit transaction", err)
	}
	return nil
}

// dbErr maps serialization failures and deadlocks to a retryable conflict
// and everything else to an internal error.
func dbErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return &core.ConcurrencyConflictError{Entity: "transaction", ID: pgErr.Code}
		}
	}
	return core.WrapInternal(op, err)
}

func (s *Store) NextSequence(ctx context.Context, name string) (int64, error) {
	var n int64
	err := s.q(ctx).QueryRow(ctx, `
		INSERT INTO sequences (name, last_number) VALUES ($1, 1)
		ON CONFLICT (name) DO UPDATE SET last_number = sequences.last_number + 1
		RETURNING last_number
	`, name).Scan(&n)
	if err != nil {
		return 0, dbErr("failed to advance sequence "+name, err)
	}
	return n, nil
}

// filter accumulates WHERE conditions with positional arguments.
type filter struct {
	conds []string
	args  []any
}

func (f *filter) add(cond string, arg any) {
	f.args = append(f.args, arg)
	f.conds = append(f.conds, fmt.Sprintf(cond, len(f.args)))
}

func (f *filter) where() string {
	if len(f.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.conds, " AND ")
}

func (f *filter) page(limit, offset int) string {
	var sb strings.Builder
	if limit > 0 {
		f.args = append(f.args, limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(f.args))
	}
	if offset > 0 {
		f.args = append(f.args, offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(f.args))
	}
	return sb.String()
}
