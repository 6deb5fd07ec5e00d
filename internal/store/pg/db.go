// Package pg is the relational persistence gateway: a pgx connection
// pool plus the transactional scope contract every Task Store Operation
// runs inside.
package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a pgx pool and exposes the with_tx(fn) contract from §4.1:
// fn observes one consistent transactional view; a returned error rolls
// back, nil commits.
type DB struct {
	pool *pgxpool.Pool
}

// Queryer is the minimal surface Task Store Operations need, satisfied
// by both *pgxpool.Pool (for plain reads) and pgx.Tx (for the mutating
// ops in §4.2, which must all share one scope).
type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Open connects a pooled pgx client against dsn.
func Open(ctx context.Context, dsn string, maxConns int) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &DB{pool: pool}, nil
}

// Close releases the pool.
func (d *DB) Close() {
	d.pool.Close()
}

// Pool exposes the raw pool for the migrate subcommand's stdlib driver.
func (d *DB) Pool() *pgxpool.Pool {
	return d.pool
}

// WithTx opens a transaction, passes it to fn, and commits on nil error
// or rolls back otherwise — always via defer, so a panic inside fn also
// rolls back.
func (d *DB) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()
	err = fn(ctx, tx)
	return err
}
