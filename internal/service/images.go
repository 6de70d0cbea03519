package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/brain/internal/domain"
	"github.com/jbweber/homelab/brain/internal/logging"
	"github.com/jbweber/homelab/brain/internal/repository"
	"github.com/jbweber/homelab/brain/internal/storage"
	"github.com/jbweber/homelab/brain/internal/workflow"
)

// ImageRequest registers an existing storage image as a clone source.
type ImageRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Cluster     string `json:"cluster"`
	MinSizeGB   int64  `json:"min_size_gb"`
}

// ImagePatch changes the fields that are set. The storage location of an
// image never changes.
type ImagePatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	MinSizeGB   *int64  `json:"min_size_gb,omitempty"`
}

// Images manages the source images.
type Images struct {
	inv      *repository.Inventory
	storage  storage.Backend
	snapshot string
	observer workflow.Observer
}

// NewImages creates the image service. snapshot names the protected
// snapshot every clone is taken from.
func NewImages(inv *repository.Inventory, backend storage.Backend, snapshot string, observer workflow.Observer) *Images {
	return &Images{inv: inv, storage: backend, snapshot: snapshot, observer: observer}
}

func validateImage(img domain.Image) error {
	switch {
	case img.Name == "":
		return invalid("image name is required")
	case img.Cluster == "":
		return invalid("image cluster is required")
	case !domain.ValidLocation(img.Location):
		return invalid("image location %q must be pool/name", img.Location)
	case img.MinSizeGB < 1:
		return invalid("image min size must be at least 1 GiB")
	}
	return nil
}

func imageUnique(ctx context.Context, r *repository.Repositories, img domain.Image) error {
	existing, err := r.Images.FindByNameAndCluster(ctx, img.Name, img.Cluster)
	if err := taken("image name", img.Name, existing.ID, err, img.ID); err != nil {
		return err
	}
	existing, err = r.Images.FindByLocationAndCluster(ctx, img.Location, img.Cluster)
	return taken("image location", img.Location, existing.ID, err, img.ID)
}

func (s *Images) runner(ctx context.Context, name string, img domain.Image) (*workflow.Runner, *logrus.Entry) {
	log := logging.FromContext(ctx).WithFields(logrus.Fields{"image": img.Location, "cluster": img.Cluster})
	return &workflow.Runner{Workflow: name, Log: log, Observer: s.observer}, log
}

// Register snapshots and protects an existing storage image and records it.
// The storage image itself stays owned by whoever created it.
func (s *Images) Register(ctx context.Context, req ImageRequest) (domain.Image, error) {
	img := domain.Image{
		Name:        req.Name,
		Description: req.Description,
		Location:    req.Location,
		Cluster:     req.Cluster,
		MinSizeGB:   req.MinSizeGB,
	}
	if err := validateImage(img); err != nil {
		return domain.Image{}, err
	}
	err := s.inv.Session(ctx, func(r *repository.Repositories) error {
		return imageUnique(ctx, r, img)
	})
	if err != nil {
		return domain.Image{}, err
	}
	spec, err := storage.ParseImageSpec(img.Location)
	if err != nil {
		return domain.Image{}, invalid("%v", err)
	}

	runner, log := s.runner(ctx, "register image", img)
	err = runner.Run(ctx, []workflow.Step{
		{
			Name:   "create snapshot",
			Policy: workflow.Critical,
			Run: func(ctx context.Context) error {
				return s.storage.CreateSnapshot(ctx, img.Cluster, spec, s.snapshot)
			},
		},
		{
			Name:   "protect snapshot",
			Policy: workflow.Critical,
			Run: func(ctx context.Context) error {
				return s.storage.SetSnapshotProtection(ctx, img.Cluster, spec, s.snapshot, true)
			},
		},
		{
			Name:   "inventory insert",
			Policy: workflow.Critical,
			Run: func(ctx context.Context) error {
				return s.inv.Session(ctx, func(r *repository.Repositories) error {
					if err := imageUnique(ctx, r, img); err != nil {
						return err
					}
					var err error
					img, err = r.Images.Save(ctx, img)
					return err
				})
			},
		},
	})
	if err != nil {
		return domain.Image{}, err
	}
	log.WithField("image_id", img.ID).Info("image registered")
	return img, nil
}

// Update applies patch to an image.
func (s *Images) Update(ctx context.Context, id string, patch ImagePatch) (domain.Image, error) {
	return read(ctx, s.inv, func(r *repository.Repositories) (domain.Image, error) {
		img, err := r.Images.FindByID(ctx, id)
		if err != nil {
			return domain.Image{}, err
		}
		if patch.Name != nil {
			img.Name = *patch.Name
		}
		if patch.Description != nil {
			img.Description = *patch.Description
		}
		if patch.MinSizeGB != nil {
			img.MinSizeGB = *patch.MinSizeGB
		}
		if err := validateImage(img); err != nil {
			return domain.Image{}, err
		}
		if err := imageUnique(ctx, r, img); err != nil {
			return domain.Image{}, err
		}
		return r.Images.Save(ctx, img)
	})
}

// Delete removes an image no disk was cloned from. The clone snapshot is
// unprotected and deleted; the storage image is deleted only when this
// service created it.
func (s *Images) Delete(ctx context.Context, id string) error {
	img, err := read(ctx, s.inv, func(r *repository.Repositories) (domain.Image, error) {
		img, err := r.Images.FindByID(ctx, id)
		if err != nil {
			return domain.Image{}, err
		}
		disks, err := r.SystemDisks.FindByImageID(ctx, id)
		if err != nil {
			return domain.Image{}, err
		}
		if len(disks) > 0 {
			return domain.Image{}, fmt.Errorf("image %s backs %d system disk(s): %w", img.Name, len(disks), repository.ErrInUse)
		}
		return img, nil
	})
	if err != nil {
		return err
	}
	spec, err := storage.ParseImageSpec(img.Location)
	if err != nil {
		return err
	}

	runner, log := s.runner(ctx, "delete image", img)
	err = runner.Run(ctx, []workflow.Step{
		{
			Name:   "unprotect snapshot",
			Policy: workflow.Critical,
			Run: func(ctx context.Context) error {
				return s.storage.SetSnapshotProtection(ctx, img.Cluster, spec, s.snapshot, false)
			},
		},
		{
			Name:   "delete snapshot",
			Policy: workflow.Critical,
			Run: func(ctx context.Context) error {
				return s.storage.DeleteSnapshot(ctx, img.Cluster, spec, s.snapshot)
			},
		},
		{
			Name:       "storage delete",
			Policy:     workflow.Critical,
			Predicates: []workflow.Predicate{func() bool { return img.Managed }},
			Run: func(ctx context.Context) error {
				return s.storage.DeleteImage(ctx, img.Cluster, spec)
			},
		},
		{
			Name:   "inventory delete",
			Policy: workflow.Critical,
			Run: func(ctx context.Context) error {
				return s.inv.Session(ctx, func(r *repository.Repositories) error {
					return r.Images.DeleteByID(ctx, img.ID)
				})
			},
		},
	})
	if err != nil {
		return err
	}
	log.WithField("managed", img.Managed).Info("image deleted")
	return nil
}

// List returns all images.
func (s *Images) List(ctx context.Context) ([]domain.Image, error) {
	return read(ctx, s.inv, func(r *repository.Repositories) ([]domain.Image, error) {
		return r.Images.FindAll(ctx)
	})
}

// Get returns one image.
func (s *Images) Get(ctx context.Context, id string) (domain.Image, error) {
	return read(ctx, s.inv, func(r *repository.Repositories) (domain.Image, error) {
		return r.Images.FindByID(ctx, id)
	})
}
