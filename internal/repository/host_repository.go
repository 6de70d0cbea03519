package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jbweber/homelab/brain/internal/datastore"
	"github.com/jbweber/homelab/brain/internal/domain"
)

// HostRepository defines domain-specific operations for hosts
type HostRepository interface {
	Repository[domain.Host, string]
	FindByName(ctx context.Context, name string) (domain.Host, error)
	FindByIP(ctx context.Context, ip string) (domain.Host, error)
	FindByMAC(ctx context.Context, mac string) (domain.Host, error)
}

type hostRepositoryImpl struct {
	db datastore.DBTX
}

// NewHostRepository creates a new host repository
func NewHostRepository(db datastore.DBTX) HostRepository {
	return &hostRepositoryImpl{db: db}
}

const hostColumns = "id, name, description, ip, mac, gateway, os_user, os_password"

func scanHost(row rowScanner) (domain.Host, error) {
	var h domain.Host
	err := row.Scan(&h.ID, &h.Name, &h.Description, &h.IP, &h.MAC, &h.Gateway, &h.OSUser, &h.OSPassword)
	return h, err
}

// Save creates or updates a host. An empty ID is assigned a new UUID.
func (r *hostRepositoryImpl) Save(ctx context.Context, h domain.Host) (domain.Host, error) {
	if h.Name == "" || h.IP == "" || h.MAC == "" {
		return domain.Host{}, fmt.Errorf("host name, ip and mac are required: %w", ErrInvalidEntity)
	}
	if h.ID == "" {
		h.ID = uuid.NewString()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO hosts (`+hostColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, description = excluded.description, ip = excluded.ip,
			mac = excluded.mac, gateway = excluded.gateway, os_user = excluded.os_user,
			os_password = excluded.os_password, updated_at = CURRENT_TIMESTAMP`,
		h.ID, h.Name, h.Description, h.IP, h.MAC, h.Gateway, h.OSUser, h.OSPassword)
	if err != nil {
		return domain.Host{}, saveErr("host "+h.Name, err)
	}
	return h, nil
}

// FindByID retrieves a host by its ID
func (r *hostRepositoryImpl) FindByID(ctx context.Context, id string) (domain.Host, error) {
	return queryOne(ctx, r.db, scanHost, "host "+id,
		"SELECT "+hostColumns+" FROM hosts WHERE id = ?", id)
}

// FindAll retrieves all hosts ordered by name
func (r *hostRepositoryImpl) FindAll(ctx context.Context) ([]domain.Host, error) {
	hosts, err := queryAll(ctx, r.db, scanHost, "SELECT "+hostColumns+" FROM hosts ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}
	return hosts, nil
}

// DeleteByID removes a host by its ID
func (r *hostRepositoryImpl) DeleteByID(ctx context.Context, id string) error {
	return deleteOne(ctx, r.db, "hosts", "host", id)
}

// ExistsByID checks if a host exists by its ID
func (r *hostRepositoryImpl) ExistsByID(ctx context.Context, id string) (bool, error) {
	ok, err := exists(ctx, r.db, "hosts", id)
	if err != nil {
		return false, fmt.Errorf("failed to check host existence: %w", err)
	}
	return ok, nil
}

// FindByName retrieves a host by its name
func (r *hostRepositoryImpl) FindByName(ctx context.Context, name string) (domain.Host, error) {
	return queryOne(ctx, r.db, scanHost, "host with name "+name,
		"SELECT "+hostColumns+" FROM hosts WHERE name = ?", name)
}

// FindByIP retrieves a host by its management address
func (r *hostRepositoryImpl) FindByIP(ctx context.Context, ip string) (domain.Host, error) {
	return queryOne(ctx, r.db, scanHost, "host with IP "+ip,
		"SELECT "+hostColumns+" FROM hosts WHERE ip = ?", ip)
}

// FindByMAC retrieves a host by its normalized MAC address
func (r *hostRepositoryImpl) FindByMAC(ctx context.Context, mac string) (domain.Host, error) {
	return queryOne(ctx, r.db, scanHost, "host with MAC "+mac,
		"SELECT "+hostColumns+" FROM hosts WHERE mac = ?", mac)
}
