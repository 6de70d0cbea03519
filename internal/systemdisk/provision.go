package systemdisk

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/brain/internal/domain"
	"github.com/jbweber/homelab/brain/internal/efi"
	"github.com/jbweber/homelab/brain/internal/firstboot"
	"github.com/jbweber/homelab/brain/internal/gateway"
	"github.com/jbweber/homelab/brain/internal/remote"
	"github.com/jbweber/homelab/brain/internal/repository"
	"github.com/jbweber/homelab/brain/internal/storage"
	"github.com/jbweber/homelab/brain/internal/workflow"
)

// CreateRequest describes a new system disk.
type CreateRequest struct {
	ImageID     string         `json:"image_id"`
	GatewayID   string         `json:"gateway_id"`
	SizeGB      int64          `json:"size_gb"`
	Flatten     bool           `json:"flatten"`
	Description string         `json:"description"`
	User        firstboot.User `json:"system_user"`
}

// Create clones the image into a new disk, exposes it on the gateway and
// records it. The inventory record exists only if the storage and block
// device steps succeeded.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Result, error) {
	if req.User.Name == "" || req.User.Password == "" {
		return Result{}, fmt.Errorf("system user name and password are required: %w", repository.ErrInvalidEntity)
	}
	return s.provision(ctx, "provision", req, false)
}

func (s *Service) provision(ctx context.Context, name string, req CreateRequest, rebuild bool) (Result, error) {
	var (
		img  domain.Image
		gw   domain.Gateway
		host domain.Host
	)
	err := s.inv.Session(ctx, func(r *repository.Repositories) error {
		var err error
		if img, err = r.Images.FindByID(ctx, req.ImageID); err != nil {
			return err
		}
		if gw, err = r.Gateways.FindByID(ctx, req.GatewayID); err != nil {
			return err
		}
		host, err = r.Hosts.FindByID(ctx, gw.HostID)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	if err := checkSize(req.SizeGB, img); err != nil {
		return Result{}, err
	}
	parent, err := storage.ParseImageSpec(img.Location)
	if err != nil {
		return Result{}, fmt.Errorf("image %s: %w", img.ID, err)
	}

	id := s.newID()
	child := storage.ImageSpec{Pool: s.opts.ClonePool, Name: id}
	err = s.inv.Session(ctx, func(r *repository.Repositories) error {
		_, err := r.SystemDisks.FindByPoolPath(ctx, child.String())
		switch {
		case err == nil:
			return fmt.Errorf("%s: %w", child, ErrPathCollision)
		case errors.Is(err, repository.ErrNotFound):
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return Result{}, err
	}

	disk := domain.SystemDisk{
		ID:          id,
		ImageID:     img.ID,
		GatewayID:   gw.ID,
		GatewayIP:   gw.IP,
		Cluster:     img.Cluster,
		SizeGB:      req.SizeGB,
		Flatten:     req.Flatten,
		PoolPath:    child.String(),
		Description: req.Description,
	}
	res := Result{}
	notRebuild := workflow.Not(func() bool { return rebuild })

	runner, log := s.runner(ctx, name, logrus.Fields{"disk_id": id, "gateway": gw.IP, "image": img.Name})
	log.WithField("size", humanize.IBytes(uint64(disk.SizeBytes()))).Info("provisioning system disk")

	steps := []workflow.Step{
		{
			Name:   "clone",
			Policy: workflow.Critical,
			Run: func(ctx context.Context) error {
				return s.storage.Clone(ctx, img.Cluster, parent, s.opts.SnapshotName, child)
			},
		},
		{
			Name:       "flatten",
			Policy:     workflow.Critical,
			Predicates: []workflow.Predicate{func() bool { return req.Flatten }},
			Run: func(ctx context.Context) error {
				return s.storage.Flatten(ctx, img.Cluster, child)
			},
		},
		{
			Name:   "resize",
			Policy: workflow.Critical,
			Run: func(ctx context.Context) error {
				return s.storage.Resize(ctx, img.Cluster, child, disk.SizeBytes())
			},
		},
		{
			Name:   "block device add",
			Policy: workflow.Critical,
			Run: func(ctx context.Context) error {
				blockID, err := s.agent.AddBlockDevice(ctx, gw.IP, gateway.BlockDevice{PoolPath: disk.PoolPath, Cluster: disk.Cluster})
				disk.BlockID = blockID
				return err
			},
		},
		{
			Name:       "first boot create",
			Policy:     workflow.BestEffort,
			Predicates: []workflow.Predicate{notRebuild},
			Run: func(ctx context.Context) error {
				docs, err := firstboot.Build(host, req.User, s.opts.Nameservers)
				if err != nil {
					return err
				}
				return s.agent.CreateFirstBoot(ctx, gw.IP, docs.UserData, docs.NetworkConfig)
			},
			OnFailure: workflow.MarkDegraded(&res.FirstBootStatus),
		},
		{
			Name:   "checkpoint save",
			Policy: workflow.BestEffort,
			Run: func(ctx context.Context) error {
				return s.agent.SaveCheckpoint(ctx, gw.IP)
			},
		},
		{
			Name:   "inventory insert",
			Policy: workflow.Critical,
			Run: func(ctx context.Context) error {
				return s.inv.Session(ctx, func(r *repository.Repositories) error {
					for _, check := range []struct {
						what string
						id   string
						fn   func(context.Context, string) (bool, error)
					}{
						{"image", disk.ImageID, r.Images.ExistsByID},
						{"gateway", disk.GatewayID, r.Gateways.ExistsByID},
					} {
						ok, err := check.fn(ctx, check.id)
						if err != nil {
							return err
						}
						if !ok {
							return fmt.Errorf("%s %s vanished: %w", check.what, check.id, repository.ErrNotFound)
						}
					}
					taken, err := r.SystemDisks.ExistsByID(ctx, disk.ID)
					if err != nil {
						return err
					}
					if taken {
						return fmt.Errorf("disk id %s: %w", disk.ID, ErrPathCollision)
					}
					_, err = r.SystemDisks.Save(ctx, disk)
					return err
				})
			},
		},
		{
			Name:       "boot entry create",
			Policy:     workflow.BestEffort,
			Predicates: []workflow.Predicate{notRebuild},
			Run: func(ctx context.Context) error {
				if !host.HasCredentials() {
					return errNoCredentials
				}
				_, err := s.boot.CreateEntry(ctx, remote.HostTarget(host), efi.CreateRequest{
					Label:     efi.EntryLabel(img.Name, disk.ID),
					SizeBytes: disk.SizeBytes(),
				})
				return err
			},
			OnFailure: workflow.MarkDegraded(&res.EFIStatus),
		},
	}

	if err := runner.Run(ctx, steps); err != nil {
		return Result{}, err
	}
	res.Disk = disk
	log.WithFields(logrus.Fields{
		"block_id":         disk.BlockID,
		"firstboot_status": res.FirstBootStatus,
		"efi_status":       res.EFIStatus,
	}).Info("system disk provisioned")
	return res, nil
}
