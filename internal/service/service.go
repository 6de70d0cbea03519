// Package service orchestrates the inventory entities around the system
// disks: hosts and their firmware boot entries, gateways and their agent
// settings, source images and virtual network interfaces.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jbweber/homelab/brain/internal/repository"
)

// taken reports a uniqueness conflict for value unless the lookup found
// nothing or found the entity being saved.
func taken(what, value, ownerID string, err error, selfID string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil
	case err != nil:
		return err
	case ownerID == selfID:
		return nil
	default:
		return fmt.Errorf("%s %s: %w", what, value, repository.ErrDuplicate)
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), repository.ErrInvalidEntity)
}

// read runs fn in a session and returns its value.
func read[T any](ctx context.Context, inv *repository.Inventory, fn func(*repository.Repositories) (T, error)) (T, error) {
	var out T
	err := inv.Session(ctx, func(r *repository.Repositories) error {
		var err error
		out, err = fn(r)
		return err
	})
	return out, err
}
