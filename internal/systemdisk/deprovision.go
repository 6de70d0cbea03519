package systemdisk

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/brain/internal/domain"
	"github.com/jbweber/homelab/brain/internal/gateway"
	"github.com/jbweber/homelab/brain/internal/remote"
	"github.com/jbweber/homelab/brain/internal/repository"
	"github.com/jbweber/homelab/brain/internal/storage"
	"github.com/jbweber/homelab/brain/internal/workflow"
)

// Delete removes the disk from the gateway, the storage cluster and the
// inventory. Removing the last disk of a gateway also removes the gateway's
// first-boot datasource. The record is removed only if both the block device
// and the storage image were deleted.
func (s *Service) Delete(ctx context.Context, id string) (Result, error) {
	return s.deprovision(ctx, "deprovision", id, false)
}

func (s *Service) deprovision(ctx context.Context, name, id string, rebuild bool) (Result, error) {
	var (
		disk domain.SystemDisk
		last bool
	)
	err := s.inv.Session(ctx, func(r *repository.Repositories) error {
		var err error
		if disk, err = r.SystemDisks.FindByID(ctx, id); err != nil {
			return err
		}
		count, err := r.SystemDisks.CountByGatewayID(ctx, disk.GatewayID)
		last = count == 1
		return err
	})
	if err != nil {
		return Result{}, err
	}
	spec, err := storage.ParseImageSpec(disk.PoolPath)
	if err != nil {
		return Result{}, err
	}

	var (
		gw   domain.Gateway
		host domain.Host
		res  = Result{Disk: disk}
	)
	runner, log := s.runner(ctx, name, logrus.Fields{"disk_id": disk.ID, "gateway": disk.GatewayIP, "last_disk": last})
	log.Info("deprovisioning system disk")

	steps := []workflow.Step{
		{
			Name:   "first boot delete",
			Policy: workflow.BestEffort,
			Predicates: []workflow.Predicate{
				func() bool { return last },
				func() bool { return !rebuild },
			},
			Run: func(ctx context.Context) error {
				return s.agent.DeleteFirstBoot(ctx, disk.GatewayIP)
			},
			OnFailure: workflow.MarkDegraded(&res.FirstBootStatus),
		},
		{
			Name:   "block device delete",
			Policy: workflow.Critical,
			Run: func(ctx context.Context) error {
				return s.agent.DeleteBlockDevice(ctx, disk.GatewayIP, gateway.BlockDevice{
					PoolPath: disk.PoolPath,
					Cluster:  disk.Cluster,
					BlockID:  disk.BlockID,
				})
			},
		},
		{
			Name:   "checkpoint save",
			Policy: workflow.BestEffort,
			Run: func(ctx context.Context) error {
				return s.agent.SaveCheckpoint(ctx, disk.GatewayIP)
			},
		},
		{
			Name:   "storage delete",
			Policy: workflow.Critical,
			Run: func(ctx context.Context) error {
				return s.storage.DeleteImage(ctx, disk.Cluster, spec)
			},
		},
		{
			Name:   "inventory delete",
			Policy: workflow.Critical,
			Run: func(ctx context.Context) error {
				return s.inv.Session(ctx, func(r *repository.Repositories) error {
					return r.SystemDisks.DeleteByID(ctx, disk.ID)
				})
			},
		},
		{
			Name:   "resolve host",
			Policy: workflow.Critical,
			Run: func(ctx context.Context) error {
				return s.inv.Session(ctx, func(r *repository.Repositories) error {
					var err error
					if gw, err = r.Gateways.FindByID(ctx, disk.GatewayID); err != nil {
						return err
					}
					host, err = r.Hosts.FindByID(ctx, gw.HostID)
					return err
				})
			},
		},
		{
			Name:       "boot entry cleanup",
			Policy:     workflow.BestEffort,
			Predicates: []workflow.Predicate{func() bool { return host.HasCredentials() }},
			Run: func(ctx context.Context) error {
				removed, err := s.boot.CleanupOrphans(ctx, remote.HostTarget(host))
				res.RemovedEntries = removed
				return err
			},
			OnFailure: workflow.MarkDegraded(&res.EFIStatus),
		},
	}

	if err := runner.Run(ctx, steps); err != nil {
		return Result{}, err
	}
	log.WithFields(logrus.Fields{
		"firstboot_status": res.FirstBootStatus,
		"efi_status":       res.EFIStatus,
		"removed_entries":  len(res.RemovedEntries),
	}).Info("system disk deprovisioned")
	return res, nil
}
