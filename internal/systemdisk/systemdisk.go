// Package systemdisk provisions, deprovisions and rebuilds the storage-backed
// system disks that gateways expose to their hosts as boot devices.
//
// Every workflow is a list of steps. Critical steps (storage clone, resize,
// block device registration, storage deletion and the inventory commit) abort
// the workflow and surface a *workflow.StepError. Best-effort steps (first
// boot datasource, agent checkpoint, firmware boot entries) only degrade the
// returned status flags. Nothing is rolled back: a critical failure after an
// earlier critical step succeeded leaves backend resources for an operator to
// clean up.
package systemdisk

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/brain/internal/domain"
	"github.com/jbweber/homelab/brain/internal/efi"
	"github.com/jbweber/homelab/brain/internal/gateway"
	"github.com/jbweber/homelab/brain/internal/logging"
	"github.com/jbweber/homelab/brain/internal/remote"
	"github.com/jbweber/homelab/brain/internal/repository"
	"github.com/jbweber/homelab/brain/internal/storage"
	"github.com/jbweber/homelab/brain/internal/workflow"
)

// ErrPathCollision is returned when the storage path generated for a new
// disk is already recorded in the inventory.
var ErrPathCollision = errors.New("generated storage path already in use")

var errNoCredentials = errors.New("host has no saved OS credentials")

// BootManager maintains firmware boot entries on hosts.
type BootManager interface {
	CreateEntry(ctx context.Context, target remote.Target, req efi.CreateRequest) (efi.BootEntry, error)
	CleanupOrphans(ctx context.Context, target remote.Target) ([]efi.BootEntry, error)
}

// Options holds the storage and first-boot constants used by the workflows.
type Options struct {
	ClonePool    string
	ImagePool    string
	SnapshotName string
	Nameservers  []string
}

// Service runs the system disk workflows.
type Service struct {
	inv      *repository.Inventory
	storage  storage.Backend
	agent    gateway.Agent
	boot     BootManager
	opts     Options
	observer workflow.Observer
	clock    clock.Clock
	newID    func() string
}

// NewService wires the workflows to their collaborators. observer may be nil.
func NewService(inv *repository.Inventory, backend storage.Backend, agent gateway.Agent, boot BootManager, opts Options, observer workflow.Observer) *Service {
	return &Service{
		inv:      inv,
		storage:  backend,
		agent:    agent,
		boot:     boot,
		opts:     opts,
		observer: observer,
		clock:    clock.WallClock,
		newID:    uuid.NewString,
	}
}

// Result is the outcome of a disk workflow. The status flags are independent:
// a disk can be usable while first-boot or firmware automation degraded.
type Result struct {
	Disk            domain.SystemDisk `json:"system_disk"`
	FirstBootStatus workflow.Status   `json:"firstboot_status"`
	EFIStatus       workflow.Status   `json:"efi_status"`
	RemovedEntries  []efi.BootEntry   `json:"removed_boot_entries,omitempty"`
}

func (s *Service) runner(ctx context.Context, name string, fields logrus.Fields) (*workflow.Runner, *logrus.Entry) {
	log := logging.FromContext(ctx).WithFields(fields)
	return &workflow.Runner{Workflow: name, Log: log, Observer: s.observer, Clock: s.clock}, log
}

// List returns all system disks.
func (s *Service) List(ctx context.Context) ([]domain.SystemDisk, error) {
	var disks []domain.SystemDisk
	err := s.inv.Session(ctx, func(r *repository.Repositories) error {
		var err error
		disks, err = r.SystemDisks.FindAll(ctx)
		return err
	})
	return disks, err
}

// Get returns one system disk.
func (s *Service) Get(ctx context.Context, id string) (domain.SystemDisk, error) {
	var disk domain.SystemDisk
	err := s.inv.Session(ctx, func(r *repository.Repositories) error {
		var err error
		disk, err = r.SystemDisks.FindByID(ctx, id)
		return err
	})
	return disk, err
}

// UpdateDescription changes the free-form description of a disk. Every other
// field is owned by the workflows.
func (s *Service) UpdateDescription(ctx context.Context, id, description string) (domain.SystemDisk, error) {
	var disk domain.SystemDisk
	err := s.inv.Session(ctx, func(r *repository.Repositories) error {
		var err error
		if disk, err = r.SystemDisks.FindByID(ctx, id); err != nil {
			return err
		}
		disk.Description = description
		disk, err = r.SystemDisks.Save(ctx, disk)
		return err
	})
	return disk, err
}

func checkSize(sizeGB int64, img domain.Image) error {
	if sizeGB < 1 {
		return fmt.Errorf("size must be at least 1 GiB: %w", repository.ErrInvalidEntity)
	}
	if sizeGB < img.MinSizeGB {
		return fmt.Errorf("size %d GiB is below the %d GiB minimum of image %s: %w",
			sizeGB, img.MinSizeGB, img.Name, repository.ErrInvalidEntity)
	}
	return nil
}
