package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jbweber/homelab/brain/internal/datastore"
	"github.com/jbweber/homelab/brain/internal/domain"
)

// GatewayRepository defines domain-specific operations for gateways
type GatewayRepository interface {
	Repository[domain.Gateway, string]
	FindByName(ctx context.Context, name string) (domain.Gateway, error)
	FindByIP(ctx context.Context, ip string) (domain.Gateway, error)
	FindByHostID(ctx context.Context, hostID string) ([]domain.Gateway, error)
}

type gatewayRepositoryImpl struct {
	db datastore.DBTX
}

// NewGatewayRepository creates a new gateway repository
func NewGatewayRepository(db datastore.DBTX) GatewayRepository {
	return &gatewayRepositoryImpl{db: db}
}

const gatewayColumns = "id, name, description, ip, host_id, clouddisk_enabled"

func scanGateway(row rowScanner) (domain.Gateway, error) {
	var g domain.Gateway
	err := row.Scan(&g.ID, &g.Name, &g.Description, &g.IP, &g.HostID, &g.CloudDiskEnabled)
	return g, err
}

// Save creates or updates a gateway. An empty ID is assigned a new UUID.
func (r *gatewayRepositoryImpl) Save(ctx context.Context, g domain.Gateway) (domain.Gateway, error) {
	if g.Name == "" || g.IP == "" {
		return domain.Gateway{}, fmt.Errorf("gateway name and ip are required: %w", ErrInvalidEntity)
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO gateways (`+gatewayColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, description = excluded.description, ip = excluded.ip,
			host_id = excluded.host_id, clouddisk_enabled = excluded.clouddisk_enabled,
			updated_at = CURRENT_TIMESTAMP`,
		g.ID, g.Name, g.Description, g.IP, g.HostID, g.CloudDiskEnabled)
	if err != nil {
		return domain.Gateway{}, saveErr("gateway "+g.Name, err)
	}
	return g, nil
}

// FindByID retrieves a gateway by its ID
func (r *gatewayRepositoryImpl) FindByID(ctx context.Context, id string) (domain.Gateway, error) {
	return queryOne(ctx, r.db, scanGateway, "gateway "+id,
		"SELECT "+gatewayColumns+" FROM gateways WHERE id = ?", id)
}

// FindAll retrieves all gateways ordered by name
func (r *gatewayRepositoryImpl) FindAll(ctx context.Context) ([]domain.Gateway, error) {
	gws, err := queryAll(ctx, r.db, scanGateway, "SELECT "+gatewayColumns+" FROM gateways ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list gateways: %w", err)
	}
	return gws, nil
}

// DeleteByID removes a gateway by its ID
func (r *gatewayRepositoryImpl) DeleteByID(ctx context.Context, id string) error {
	return deleteOne(ctx, r.db, "gateways", "gateway", id)
}

// ExistsByID checks if a gateway exists by its ID
func (r *gatewayRepositoryImpl) ExistsByID(ctx context.Context, id string) (bool, error) {
	ok, err := exists(ctx, r.db, "gateways", id)
	if err != nil {
		return false, fmt.Errorf("failed to check gateway existence: %w", err)
	}
	return ok, nil
}

// FindByName retrieves a gateway by its name
func (r *gatewayRepositoryImpl) FindByName(ctx context.Context, name string) (domain.Gateway, error) {
	return queryOne(ctx, r.db, scanGateway, "gateway with name "+name,
		"SELECT "+gatewayColumns+" FROM gateways WHERE name = ?", name)
}

// FindByIP retrieves a gateway by its agent address
func (r *gatewayRepositoryImpl) FindByIP(ctx context.Context, ip string) (domain.Gateway, error) {
	return queryOne(ctx, r.db, scanGateway, "gateway with IP "+ip,
		"SELECT "+gatewayColumns+" FROM gateways WHERE ip = ?", ip)
}

// FindByHostID lists the gateways serving a host
func (r *gatewayRepositoryImpl) FindByHostID(ctx context.Context, hostID string) ([]domain.Gateway, error) {
	gws, err := queryAll(ctx, r.db, scanGateway,
		"SELECT "+gatewayColumns+" FROM gateways WHERE host_id = ? ORDER BY name", hostID)
	if err != nil {
		return nil, fmt.Errorf("failed to list gateways for host %s: %w", hostID, err)
	}
	return gws, nil
}
