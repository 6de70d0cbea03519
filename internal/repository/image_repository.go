package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jbweber/homelab/brain/internal/datastore"
	"github.com/jbweber/homelab/brain/internal/domain"
)

// ImageRepository defines domain-specific operations for images
type ImageRepository interface {
	Repository[domain.Image, string]
	FindByNameAndCluster(ctx context.Context, name, cluster string) (domain.Image, error)
	FindByLocationAndCluster(ctx context.Context, location, cluster string) (domain.Image, error)
}

type imageRepositoryImpl struct {
	db datastore.DBTX
}

// NewImageRepository creates a new image repository
func NewImageRepository(db datastore.DBTX) ImageRepository {
	return &imageRepositoryImpl{db: db}
}

const imageColumns = "id, name, description, location, cluster, min_size_gb, managed"

func scanImage(row rowScanner) (domain.Image, error) {
	var i domain.Image
	err := row.Scan(&i.ID, &i.Name, &i.Description, &i.Location, &i.Cluster, &i.MinSizeGB, &i.Managed)
	return i, err
}

// Save creates or updates an image. An empty ID is assigned a new UUID.
func (r *imageRepositoryImpl) Save(ctx context.Context, img domain.Image) (domain.Image, error) {
	if img.Name == "" || img.Location == "" || img.Cluster == "" {
		return domain.Image{}, fmt.Errorf("image name, location and cluster are required: %w", ErrInvalidEntity)
	}
	if img.MinSizeGB <= 0 {
		return domain.Image{}, fmt.Errorf("image min size must be positive: %w", ErrInvalidEntity)
	}
	if img.ID == "" {
		img.ID = uuid.NewString()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO images (`+imageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, description = excluded.description, location = excluded.location,
			cluster = excluded.cluster, min_size_gb = excluded.min_size_gb, managed = excluded.managed,
			updated_at = CURRENT_TIMESTAMP`,
		img.ID, img.Name, img.Description, img.Location, img.Cluster, img.MinSizeGB, img.Managed)
	if err != nil {
		return domain.Image{}, saveErr("image "+img.Name, err)
	}
	return img, nil
}

// FindByID retrieves an image by its ID
func (r *imageRepositoryImpl) FindByID(ctx context.Context, id string) (domain.Image, error) {
	return queryOne(ctx, r.db, scanImage, "image "+id,
		"SELECT "+imageColumns+" FROM images WHERE id = ?", id)
}

// FindAll retrieves all images ordered by name
func (r *imageRepositoryImpl) FindAll(ctx context.Context) ([]domain.Image, error) {
	images, err := queryAll(ctx, r.db, scanImage, "SELECT "+imageColumns+" FROM images ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	return images, nil
}

// DeleteByID removes an image by its ID
func (r *imageRepositoryImpl) DeleteByID(ctx context.Context, id string) error {
	return deleteOne(ctx, r.db, "images", "image", id)
}

// ExistsByID checks if an image exists by its ID
func (r *imageRepositoryImpl) ExistsByID(ctx context.Context, id string) (bool, error) {
	ok, err := exists(ctx, r.db, "images", id)
	if err != nil {
		return false, fmt.Errorf("failed to check image existence: %w", err)
	}
	return ok, nil
}

// FindByNameAndCluster retrieves an image by name within a cluster
func (r *imageRepositoryImpl) FindByNameAndCluster(ctx context.Context, name, cluster string) (domain.Image, error) {
	return queryOne(ctx, r.db, scanImage, fmt.Sprintf("image with name %s on %s", name, cluster),
		"SELECT "+imageColumns+" FROM images WHERE name = ? AND cluster = ?", name, cluster)
}

// FindByLocationAndCluster retrieves an image by storage location within a cluster
func (r *imageRepositoryImpl) FindByLocationAndCluster(ctx context.Context, location, cluster string) (domain.Image, error) {
	return queryOne(ctx, r.db, scanImage, fmt.Sprintf("image at %s on %s", location, cluster),
		"SELECT "+imageColumns+" FROM images WHERE location = ? AND cluster = ?", location, cluster)
}
