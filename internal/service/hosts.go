package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/brain/internal/domain"
	"github.com/jbweber/homelab/brain/internal/efi"
	"github.com/jbweber/homelab/brain/internal/logging"
	"github.com/jbweber/homelab/brain/internal/remote"
	"github.com/jbweber/homelab/brain/internal/repository"
)

// BootTable reads and changes a host's firmware boot configuration.
type BootTable interface {
	Entries(ctx context.Context, target remote.Target) (efi.BootTable, error)
	SetNext(ctx context.Context, target remote.Target, num uint16) error
	Verify(ctx context.Context, target remote.Target) error
	CleanupOrphans(ctx context.Context, target remote.Target) ([]efi.BootEntry, error)
}

// HostRequest registers a host.
type HostRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IP          string `json:"ip"`
	MAC         string `json:"mac"`
	Gateway     string `json:"gateway"`
}

// HostPatch changes the fields that are set.
type HostPatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	IP          *string `json:"ip,omitempty"`
	MAC         *string `json:"mac,omitempty"`
	Gateway     *string `json:"gateway,omitempty"`
}

// Hosts manages bare-metal hosts.
type Hosts struct {
	inv      *repository.Inventory
	boot     BootTable
	bmcOctet int
	bmcValue uint8
}

// NewHosts creates the host service. The BMC address of a host is its
// management address with octet bmcOctet replaced by bmcValue.
func NewHosts(inv *repository.Inventory, boot BootTable, bmcOctet int, bmcValue uint8) *Hosts {
	return &Hosts{inv: inv, boot: boot, bmcOctet: bmcOctet, bmcValue: bmcValue}
}

func validateHost(h *domain.Host) error {
	if h.Name == "" {
		return invalid("host name is required")
	}
	if _, err := domain.ParseIPv4(h.IP); err != nil {
		return invalid("host ip: %v", err)
	}
	mac, err := domain.NormalizeMAC(h.MAC)
	if err != nil {
		return invalid("host mac: %v", err)
	}
	h.MAC = mac
	if h.Gateway != "" {
		if _, err := domain.ParseIPv4(h.Gateway); err != nil {
			return invalid("host gateway: %v", err)
		}
	}
	return nil
}

func saveHost(ctx context.Context, r *repository.Repositories, h domain.Host) (domain.Host, error) {
	existing, err := r.Hosts.FindByName(ctx, h.Name)
	if err := taken("host name", h.Name, existing.ID, err, h.ID); err != nil {
		return domain.Host{}, err
	}
	existing, err = r.Hosts.FindByIP(ctx, h.IP)
	if err := taken("host ip", h.IP, existing.ID, err, h.ID); err != nil {
		return domain.Host{}, err
	}
	existing, err = r.Hosts.FindByMAC(ctx, h.MAC)
	if err := taken("host mac", h.MAC, existing.ID, err, h.ID); err != nil {
		return domain.Host{}, err
	}
	return r.Hosts.Save(ctx, h)
}

// Register validates and records a new host.
func (s *Hosts) Register(ctx context.Context, req HostRequest) (domain.Host, error) {
	h := domain.Host{
		Name:        req.Name,
		Description: req.Description,
		IP:          req.IP,
		MAC:         req.MAC,
		Gateway:     req.Gateway,
	}
	if err := validateHost(&h); err != nil {
		return domain.Host{}, err
	}
	h, err := read(ctx, s.inv, func(r *repository.Repositories) (domain.Host, error) {
		return saveHost(ctx, r, h)
	})
	if err != nil {
		return domain.Host{}, err
	}
	logging.FromContext(ctx).WithFields(logrus.Fields{"host_id": h.ID, "ip": h.IP}).Info("host registered")
	return h, nil
}

// Update applies patch to a host.
func (s *Hosts) Update(ctx context.Context, id string, patch HostPatch) (domain.Host, error) {
	return read(ctx, s.inv, func(r *repository.Repositories) (domain.Host, error) {
		h, err := r.Hosts.FindByID(ctx, id)
		if err != nil {
			return domain.Host{}, err
		}
		for _, f := range []struct {
			dst *string
			src *string
		}{
			{&h.Name, patch.Name},
			{&h.Description, patch.Description},
			{&h.IP, patch.IP},
			{&h.MAC, patch.MAC},
			{&h.Gateway, patch.Gateway},
		} {
			if f.src != nil {
				*f.dst = *f.src
			}
		}
		if err := validateHost(&h); err != nil {
			return domain.Host{}, err
		}
		return saveHost(ctx, r, h)
	})
}

// SetCredentials saves the OS user and password used for remote shell
// access. Both empty clears them.
func (s *Hosts) SetCredentials(ctx context.Context, id, user, password string) (domain.Host, error) {
	if (user == "") != (password == "") {
		return domain.Host{}, invalid("user and password must be given together")
	}
	return read(ctx, s.inv, func(r *repository.Repositories) (domain.Host, error) {
		h, err := r.Hosts.FindByID(ctx, id)
		if err != nil {
			return domain.Host{}, err
		}
		h.OSUser, h.OSPassword = user, password
		return r.Hosts.Save(ctx, h)
	})
}

// Delete removes a host that no gateway serves.
func (s *Hosts) Delete(ctx context.Context, id string) error {
	return s.inv.Session(ctx, func(r *repository.Repositories) error {
		gws, err := r.Gateways.FindByHostID(ctx, id)
		if err != nil {
			return err
		}
		if len(gws) > 0 {
			return fmt.Errorf("host %s is served by %d gateway(s): %w", id, len(gws), repository.ErrInUse)
		}
		return r.Hosts.DeleteByID(ctx, id)
	})
}

// List returns all hosts.
func (s *Hosts) List(ctx context.Context) ([]domain.Host, error) {
	return read(ctx, s.inv, func(r *repository.Repositories) ([]domain.Host, error) {
		return r.Hosts.FindAll(ctx)
	})
}

// Get returns one host.
func (s *Hosts) Get(ctx context.Context, id string) (domain.Host, error) {
	return read(ctx, s.inv, func(r *repository.Repositories) (domain.Host, error) {
		return r.Hosts.FindByID(ctx, id)
	})
}

// BMCAddress returns the management controller address of h, or "" when
// the host address cannot be parsed.
func (s *Hosts) BMCAddress(h domain.Host) string {
	addr, err := h.BMCAddress(s.bmcOctet, s.bmcValue)
	if err != nil {
		return ""
	}
	return addr
}

func (s *Hosts) target(ctx context.Context, id string) (remote.Target, error) {
	h, err := s.Get(ctx, id)
	if err != nil {
		return remote.Target{}, err
	}
	if !h.HasCredentials() {
		return remote.Target{}, invalid("host %s has no saved OS credentials", h.Name)
	}
	return remote.HostTarget(h), nil
}

// BootEntries reads the firmware boot table of a host.
func (s *Hosts) BootEntries(ctx context.Context, id string) (efi.BootTable, error) {
	t, err := s.target(ctx, id)
	if err != nil {
		return efi.BootTable{}, err
	}
	return s.boot.Entries(ctx, t)
}

// SetBootNext makes the firmware boot entry num the one-time next boot.
func (s *Hosts) SetBootNext(ctx context.Context, id string, num uint16) error {
	t, err := s.target(ctx, id)
	if err != nil {
		return err
	}
	return s.boot.SetNext(ctx, t, num)
}

// VerifyCredentials checks that the saved credentials open a remote shell.
func (s *Hosts) VerifyCredentials(ctx context.Context, id string) error {
	t, err := s.target(ctx, id)
	if err != nil {
		return err
	}
	return s.boot.Verify(ctx, t)
}

// CleanupBootEntries removes boot entries whose partition is gone.
func (s *Hosts) CleanupBootEntries(ctx context.Context, id string) ([]efi.BootEntry, error) {
	t, err := s.target(ctx, id)
	if err != nil {
		return nil, err
	}
	removed, err := s.boot.CleanupOrphans(ctx, t)
	logging.FromContext(ctx).WithFields(logrus.Fields{"host_id": id, "removed": len(removed)}).Info("boot entries cleaned up")
	return removed, err
}
