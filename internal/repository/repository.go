package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jbweber/homelab/brain/internal/datastore"
)

// Repository defines the basic CRUD operations for any entity type.
// This follows a similar pattern to Spring Data's Repository interface.
type Repository[T any, ID comparable] interface {
	// Save creates or updates an entity
	Save(ctx context.Context, entity T) (T, error)

	// FindByID retrieves an entity by its ID
	// Returns ErrNotFound if the entity doesn't exist
	FindByID(ctx context.Context, id ID) (T, error)

	// FindAll retrieves all entities
	FindAll(ctx context.Context) ([]T, error)

	// DeleteByID deletes an entity by its ID
	// Returns ErrNotFound if the entity doesn't exist
	DeleteByID(ctx context.Context, id ID) error

	// ExistsByID checks if an entity exists by its ID
	ExistsByID(ctx context.Context, id ID) (bool, error)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// queryAll runs query and collects every row with scan.
func queryAll[T any](ctx context.Context, db datastore.DBTX, scan func(rowScanner) (T, error), query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []T{}
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// queryOne runs query and scans a single row, mapping sql.ErrNoRows to
// ErrNotFound described by what.
func queryOne[T any](ctx context.Context, db datastore.DBTX, scan func(rowScanner) (T, error), what string, query string, args ...any) (T, error) {
	item, err := scan(db.QueryRowContext(ctx, query, args...))
	if err != nil {
		var zero T
		if err == sql.ErrNoRows {
			return zero, fmt.Errorf("%s: %w", what, ErrNotFound)
		}
		return zero, fmt.Errorf("failed to find %s: %w", what, err)
	}
	return item, nil
}

// deleteOne removes the row with id from table, returning ErrNotFound when
// nothing was deleted.
func deleteOne(ctx context.Context, db datastore.DBTX, table, what, id string) error {
	res, err := db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", what, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s with ID %s: %w", what, id, ErrNotFound)
	}
	return nil
}

// exists reports whether a row with id is present in table.
func exists(ctx context.Context, db datastore.DBTX, table, id string) (bool, error) {
	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE id = ?", id).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// saveErr wraps an upsert failure, mapping unique violations to ErrDuplicate.
func saveErr(what string, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", what, ErrDuplicate)
	}
	return fmt.Errorf("failed to save %s: %w", what, err)
}
