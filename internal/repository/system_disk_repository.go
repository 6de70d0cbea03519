package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jbweber/homelab/brain/internal/datastore"
	"github.com/jbweber/homelab/brain/internal/domain"
)

// SystemDiskRepository defines domain-specific operations for system disks
type SystemDiskRepository interface {
	Repository[domain.SystemDisk, string]
	FindByPoolPath(ctx context.Context, poolPath string) (domain.SystemDisk, error)
	FindByGatewayID(ctx context.Context, gatewayID string) ([]domain.SystemDisk, error)
	FindByImageID(ctx context.Context, imageID string) ([]domain.SystemDisk, error)
	CountByGatewayID(ctx context.Context, gatewayID string) (int, error)
}

type systemDiskRepositoryImpl struct {
	db datastore.DBTX
}

// NewSystemDiskRepository creates a new system disk repository
func NewSystemDiskRepository(db datastore.DBTX) SystemDiskRepository {
	return &systemDiskRepositoryImpl{db: db}
}

const systemDiskColumns = "id, image_id, gateway_id, gateway_ip, cluster, size_gb, flatten, pool_path, block_id, description"

func scanSystemDisk(row rowScanner) (domain.SystemDisk, error) {
	var d domain.SystemDisk
	err := row.Scan(&d.ID, &d.ImageID, &d.GatewayID, &d.GatewayIP, &d.Cluster,
		&d.SizeGB, &d.Flatten, &d.PoolPath, &d.BlockID, &d.Description)
	return d, err
}

// Save creates or updates a system disk. An empty ID is assigned a new UUID.
func (r *systemDiskRepositoryImpl) Save(ctx context.Context, d domain.SystemDisk) (domain.SystemDisk, error) {
	if d.ImageID == "" || d.GatewayID == "" || d.PoolPath == "" {
		return domain.SystemDisk{}, fmt.Errorf("system disk image, gateway and pool path are required: %w", ErrInvalidEntity)
	}
	if d.SizeGB <= 0 {
		return domain.SystemDisk{}, fmt.Errorf("system disk size must be positive: %w", ErrInvalidEntity)
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO system_disks (`+systemDiskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			image_id = excluded.image_id, gateway_id = excluded.gateway_id, gateway_ip = excluded.gateway_ip,
			cluster = excluded.cluster, size_gb = excluded.size_gb, flatten = excluded.flatten,
			pool_path = excluded.pool_path, block_id = excluded.block_id, description = excluded.description,
			updated_at = CURRENT_TIMESTAMP`,
		d.ID, d.ImageID, d.GatewayID, d.GatewayIP, d.Cluster, d.SizeGB, d.Flatten, d.PoolPath, d.BlockID, d.Description)
	if err != nil {
		return domain.SystemDisk{}, saveErr("system disk "+d.PoolPath, err)
	}
	return d, nil
}

// FindByID retrieves a system disk by its ID
func (r *systemDiskRepositoryImpl) FindByID(ctx context.Context, id string) (domain.SystemDisk, error) {
	return queryOne(ctx, r.db, scanSystemDisk, "system disk "+id,
		"SELECT "+systemDiskColumns+" FROM system_disks WHERE id = ?", id)
}

// FindAll retrieves all system disks in creation order
func (r *systemDiskRepositoryImpl) FindAll(ctx context.Context) ([]domain.SystemDisk, error) {
	disks, err := queryAll(ctx, r.db, scanSystemDisk,
		"SELECT "+systemDiskColumns+" FROM system_disks ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list system disks: %w", err)
	}
	return disks, nil
}

// DeleteByID removes a system disk by its ID
func (r *systemDiskRepositoryImpl) DeleteByID(ctx context.Context, id string) error {
	return deleteOne(ctx, r.db, "system_disks", "system disk", id)
}

// ExistsByID checks if a system disk exists by its ID
func (r *systemDiskRepositoryImpl) ExistsByID(ctx context.Context, id string) (bool, error) {
	ok, err := exists(ctx, r.db, "system_disks", id)
	if err != nil {
		return false, fmt.Errorf("failed to check system disk existence: %w", err)
	}
	return ok, nil
}

// FindByPoolPath retrieves a system disk by its storage image path
func (r *systemDiskRepositoryImpl) FindByPoolPath(ctx context.Context, poolPath string) (domain.SystemDisk, error) {
	return queryOne(ctx, r.db, scanSystemDisk, "system disk at "+poolPath,
		"SELECT "+systemDiskColumns+" FROM system_disks WHERE pool_path = ?", poolPath)
}

// FindByGatewayID lists the system disks attached to a gateway
func (r *systemDiskRepositoryImpl) FindByGatewayID(ctx context.Context, gatewayID string) ([]domain.SystemDisk, error) {
	disks, err := queryAll(ctx, r.db, scanSystemDisk,
		"SELECT "+systemDiskColumns+" FROM system_disks WHERE gateway_id = ? ORDER BY created_at, id", gatewayID)
	if err != nil {
		return nil, fmt.Errorf("failed to list system disks for gateway %s: %w", gatewayID, err)
	}
	return disks, nil
}

// FindByImageID lists the system disks cloned from an image
func (r *systemDiskRepositoryImpl) FindByImageID(ctx context.Context, imageID string) ([]domain.SystemDisk, error) {
	disks, err := queryAll(ctx, r.db, scanSystemDisk,
		"SELECT "+systemDiskColumns+" FROM system_disks WHERE image_id = ? ORDER BY created_at, id", imageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list system disks for image %s: %w", imageID, err)
	}
	return disks, nil
}

// CountByGatewayID counts the system disks attached to a gateway
func (r *systemDiskRepositoryImpl) CountByGatewayID(ctx context.Context, gatewayID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM system_disks WHERE gateway_id = ?", gatewayID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count system disks for gateway %s: %w", gatewayID, err)
	}
	return count, nil
}
