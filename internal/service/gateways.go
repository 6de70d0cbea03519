package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/brain/internal/domain"
	"github.com/jbweber/homelab/brain/internal/gateway"
	"github.com/jbweber/homelab/brain/internal/logging"
	"github.com/jbweber/homelab/brain/internal/repository"
)

// GatewayRequest registers a gateway.
type GatewayRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IP          string `json:"ip"`
	HostID      string `json:"host_id"`
}

// GatewayPatch changes the fields that are set.
type GatewayPatch struct {
	Name             *string `json:"name,omitempty"`
	Description      *string `json:"description,omitempty"`
	HostID           *string `json:"host_id,omitempty"`
	CloudDiskEnabled *bool   `json:"clouddisk_enable,omitempty"`
}

// Gateways manages the device gateways.
type Gateways struct {
	inv   *repository.Inventory
	agent gateway.Agent
}

// NewGateways creates the gateway service.
func NewGateways(inv *repository.Inventory, agent gateway.Agent) *Gateways {
	return &Gateways{inv: inv, agent: agent}
}

func saveGateway(ctx context.Context, r *repository.Repositories, g domain.Gateway) (domain.Gateway, error) {
	if g.Name == "" {
		return domain.Gateway{}, invalid("gateway name is required")
	}
	if _, err := domain.ParseIPv4(g.IP); err != nil {
		return domain.Gateway{}, invalid("gateway ip: %v", err)
	}
	if g.HostID != "" {
		ok, err := r.Hosts.ExistsByID(ctx, g.HostID)
		if err != nil {
			return domain.Gateway{}, err
		}
		if !ok {
			return domain.Gateway{}, fmt.Errorf("host %s: %w", g.HostID, repository.ErrNotFound)
		}
	}
	existing, err := r.Gateways.FindByName(ctx, g.Name)
	if err := taken("gateway name", g.Name, existing.ID, err, g.ID); err != nil {
		return domain.Gateway{}, err
	}
	existing, err = r.Gateways.FindByIP(ctx, g.IP)
	if err := taken("gateway ip", g.IP, existing.ID, err, g.ID); err != nil {
		return domain.Gateway{}, err
	}
	return r.Gateways.Save(ctx, g)
}

// Register records a gateway and caches the agent's cloud-disk setting. An
// unreachable agent is recorded with the setting off.
func (s *Gateways) Register(ctx context.Context, req GatewayRequest) (domain.Gateway, error) {
	log := logging.FromContext(ctx).WithField("gateway", req.IP)
	g := domain.Gateway{Name: req.Name, Description: req.Description, IP: req.IP, HostID: req.HostID}

	if _, err := domain.ParseIPv4(g.IP); err != nil {
		return domain.Gateway{}, invalid("gateway ip: %v", err)
	}
	enabled, err := s.agent.CloudDiskEnabled(ctx, g.IP)
	if err != nil {
		log.WithError(err).Warn("failed to read cloud-disk setting, caching it as disabled")
		enabled = false
	}
	g.CloudDiskEnabled = enabled

	g, err = read(ctx, s.inv, func(r *repository.Repositories) (domain.Gateway, error) {
		return saveGateway(ctx, r, g)
	})
	if err != nil {
		return domain.Gateway{}, err
	}
	log.WithFields(logrus.Fields{"gateway_id": g.ID, "clouddisk_enable": g.CloudDiskEnabled}).Info("gateway registered")
	return g, nil
}

// Update applies patch to a gateway. A changed cloud-disk setting is pushed
// to the agent first; if the agent refuses, the cached value is kept and the
// rest of the patch still applies.
func (s *Gateways) Update(ctx context.Context, id string, patch GatewayPatch) (domain.Gateway, error) {
	g, err := s.Get(ctx, id)
	if err != nil {
		return domain.Gateway{}, err
	}
	if patch.CloudDiskEnabled != nil && *patch.CloudDiskEnabled != g.CloudDiskEnabled {
		if err := s.agent.SetCloudDiskEnabled(ctx, g.IP, *patch.CloudDiskEnabled); err != nil {
			logging.FromContext(ctx).WithField("gateway", g.IP).WithError(err).
				Error("failed to update cloud-disk setting, keeping the cached value")
		} else {
			g.CloudDiskEnabled = *patch.CloudDiskEnabled
		}
	}
	if patch.Name != nil {
		g.Name = *patch.Name
	}
	if patch.Description != nil {
		g.Description = *patch.Description
	}
	if patch.HostID != nil {
		g.HostID = *patch.HostID
	}
	return read(ctx, s.inv, func(r *repository.Repositories) (domain.Gateway, error) {
		return saveGateway(ctx, r, g)
	})
}

// Delete removes a gateway that has no system disks or interfaces.
func (s *Gateways) Delete(ctx context.Context, id string) error {
	return s.inv.Session(ctx, func(r *repository.Repositories) error {
		disks, err := r.SystemDisks.CountByGatewayID(ctx, id)
		if err != nil {
			return err
		}
		nics, err := r.Interfaces.FindByGatewayID(ctx, id)
		if err != nil {
			return err
		}
		if disks > 0 || len(nics) > 0 {
			return fmt.Errorf("gateway %s has %d disk(s) and %d interface(s): %w", id, disks, len(nics), repository.ErrInUse)
		}
		return r.Gateways.DeleteByID(ctx, id)
	})
}

// List returns all gateways.
func (s *Gateways) List(ctx context.Context) ([]domain.Gateway, error) {
	return read(ctx, s.inv, func(r *repository.Repositories) ([]domain.Gateway, error) {
		return r.Gateways.FindAll(ctx)
	})
}

// Get returns one gateway.
func (s *Gateways) Get(ctx context.Context, id string) (domain.Gateway, error) {
	return read(ctx, s.inv, func(r *repository.Repositories) (domain.Gateway, error) {
		return r.Gateways.FindByID(ctx, id)
	})
}
