package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/jbweber/homelab/brain/internal/migrations"
)

// DBTX is the subset of *sql.DB and *sql.Tx used by repositories.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Datastore owns the inventory database handle. Every read and write goes
// through WithTx, which serializes access with a process-wide lock so each
// session observes a consistent snapshot and commits atomically.
type Datastore struct {
	DB *sql.DB
	mu sync.Mutex
}

// New opens the database at dsn and brings its schema up to date.
func New(dsn string) (*Datastore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	ds, err := Wrap(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return ds, nil
}

// Wrap takes ownership of an already configured handle and runs migrations.
func Wrap(db *sql.DB) (*Datastore, error) {
	// A single connection keeps shared-cache and file databases consistent
	// with the writer lock.
	db.SetMaxOpenConns(1)

	if err := migrations.Run(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Datastore{DB: db}, nil
}

// WithTx runs fn inside a transaction while holding the writer lock. The
// transaction is committed when fn returns nil and rolled back otherwise.
func (ds *Datastore) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	tx, err := ds.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			logrus.WithError(rbErr).Warn("failed to roll back transaction")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (ds *Datastore) Close() error {
	return ds.DB.Close()
}
