package repository

import (
	"context"
	"database/sql"

	"github.com/jbweber/homelab/brain/internal/datastore"
)

// Repositories bundles the typed repositories bound to one transaction.
type Repositories struct {
	Hosts       HostRepository
	Gateways    GatewayRepository
	Images      ImageRepository
	SystemDisks SystemDiskRepository
	Interfaces  InterfaceRepository
}

// NewRepositories binds every repository to db.
func NewRepositories(db datastore.DBTX) *Repositories {
	return &Repositories{
		Hosts:       NewHostRepository(db),
		Gateways:    NewGatewayRepository(db),
		Images:      NewImageRepository(db),
		SystemDisks: NewSystemDiskRepository(db),
		Interfaces:  NewInterfaceRepository(db),
	}
}

// Inventory is the session boundary over the datastore. Each Session call
// is one serialized transaction: it commits when fn returns nil and leaves
// no trace otherwise.
type Inventory struct {
	ds *datastore.Datastore
}

// NewInventory creates an inventory backed by ds
func NewInventory(ds *datastore.Datastore) *Inventory {
	return &Inventory{ds: ds}
}

// Session runs fn with repositories bound to a fresh transaction.
func (i *Inventory) Session(ctx context.Context, fn func(*Repositories) error) error {
	return i.ds.WithTx(ctx, func(tx *sql.Tx) error {
		return fn(NewRepositories(tx))
	})
}
