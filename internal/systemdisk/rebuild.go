package systemdisk

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/brain/internal/domain"
	"github.com/jbweber/homelab/brain/internal/logging"
	"github.com/jbweber/homelab/brain/internal/repository"
	"github.com/jbweber/homelab/brain/internal/storage"
	"github.com/jbweber/homelab/brain/internal/workflow"
)

// Rebuild replaces a disk with a fresh clone of imageID on the same gateway,
// keeping its size and flatten setting. The first-boot datasource and the
// firmware boot entry are left alone since the host keeps them across the
// reimage.
//
// Rebuild is not atomic. If the create phase fails, the old disk is already
// gone and the returned error says so.
func (s *Service) Rebuild(ctx context.Context, id, imageID string) (Result, error) {
	var old domain.SystemDisk
	err := s.inv.Session(ctx, func(r *repository.Repositories) error {
		var err error
		if old, err = r.SystemDisks.FindByID(ctx, id); err != nil {
			return err
		}
		img, err := r.Images.FindByID(ctx, imageID)
		if err != nil {
			return err
		}
		return checkSize(old.SizeGB, img)
	})
	if err != nil {
		return Result{}, err
	}

	del, err := s.deprovision(ctx, "rebuild", id, true)
	if err != nil {
		return Result{}, err
	}

	res, err := s.provision(ctx, "rebuild", CreateRequest{
		ImageID:     imageID,
		GatewayID:   old.GatewayID,
		SizeGB:      old.SizeGB,
		Flatten:     old.Flatten,
		Description: fmt.Sprintf("Rebuilt from %s - %s", old.ID, old.Description),
	}, true)
	if err != nil {
		logging.FromContext(ctx).WithFields(logrus.Fields{"disk_id": old.ID, "gateway": old.GatewayIP}).
			WithError(err).Error("rebuild left the gateway without a disk")
		return Result{}, fmt.Errorf("disk %s was deleted but its replacement was not created: %w", old.ID, err)
	}
	res.EFIStatus = del.EFIStatus
	res.RemovedEntries = del.RemovedEntries
	return res, nil
}

// UploadRequest names the image created from a disk. Empty fields default to
// a generated name in the configured image pool.
type UploadRequest struct {
	DestPool    string `json:"dest_pool"`
	DestName    string `json:"dest_name"`
	Description string `json:"description"`
}

// Upload copies a disk into a new managed image. The copy gets the protected
// snapshot every clone is taken from, and its minimum size is the disk size.
func (s *Service) Upload(ctx context.Context, id string, req UploadRequest) (domain.Image, error) {
	if req.DestName == "" {
		req.DestName = s.newID()
	}
	if req.DestPool == "" {
		req.DestPool = s.opts.ImagePool
	}
	dst := storage.ImageSpec{Pool: req.DestPool, Name: req.DestName}

	var disk domain.SystemDisk
	err := s.inv.Session(ctx, func(r *repository.Repositories) error {
		var err error
		if disk, err = r.SystemDisks.FindByID(ctx, id); err != nil {
			return err
		}
		return checkImageUnique(ctx, r, req.DestName, dst.String(), disk.Cluster)
	})
	if err != nil {
		return domain.Image{}, err
	}
	src, err := storage.ParseImageSpec(disk.PoolPath)
	if err != nil {
		return domain.Image{}, err
	}

	img := domain.Image{
		Name:        req.DestName,
		Description: req.Description,
		Location:    dst.String(),
		Cluster:     disk.Cluster,
		MinSizeGB:   disk.SizeGB,
		Managed:     true,
	}
	runner, log := s.runner(ctx, "upload", logrus.Fields{"disk_id": disk.ID, "image": dst.String()})
	log.Info("uploading system disk")

	err = runner.Run(ctx, []workflow.Step{
		{
			Name:   "copy",
			Policy: workflow.Critical,
			Run: func(ctx context.Context) error {
				return s.storage.Copy(ctx, disk.Cluster, src, dst)
			},
		},
		{
			Name:   "create snapshot",
			Policy: workflow.Critical,
			Run: func(ctx context.Context) error {
				return s.storage.CreateSnapshot(ctx, disk.Cluster, dst, s.opts.SnapshotName)
			},
		},
		{
			Name:   "protect snapshot",
			Policy: workflow.Critical,
			Run: func(ctx context.Context) error {
				return s.storage.SetSnapshotProtection(ctx, disk.Cluster, dst, s.opts.SnapshotName, true)
			},
		},
		{
			Name:   "inventory insert",
			Policy: workflow.Critical,
			Run: func(ctx context.Context) error {
				return s.inv.Session(ctx, func(r *repository.Repositories) error {
					if err := checkImageUnique(ctx, r, img.Name, img.Location, img.Cluster); err != nil {
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
	log.WithField("image_id", img.ID).Info("system disk uploaded")
	return img, nil
}

// checkImageUnique fails with ErrDuplicate when cluster already holds an
// image with the given name or location.
func checkImageUnique(ctx context.Context, r *repository.Repositories, name, location, cluster string) error {
	for _, find := range []struct {
		what string
		fn   func(context.Context, string, string) (domain.Image, error)
		key  string
	}{
		{"name", r.Images.FindByNameAndCluster, name},
		{"location", r.Images.FindByLocationAndCluster, location},
	} {
		_, err := find.fn(ctx, find.key, cluster)
		switch {
		case err == nil:
			return fmt.Errorf("image %s %s on %s: %w", find.what, find.key, cluster, repository.ErrDuplicate)
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}
	}
	return nil
}
