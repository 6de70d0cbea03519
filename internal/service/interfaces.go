package service

import (
	"context"
	"math/rand/v2"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/brain/internal/domain"
	"github.com/jbweber/homelab/brain/internal/gateway"
	"github.com/jbweber/homelab/brain/internal/logging"
	"github.com/jbweber/homelab/brain/internal/repository"
	"github.com/jbweber/homelab/brain/internal/workflow"
)

const defaultMTU = 1500

// InterfaceRequest creates a virtual NIC on a gateway.
type InterfaceRequest struct {
	GatewayID   string   `json:"gateway_id"`
	IP          string   `json:"ip"` // address/prefix
	VLAN        int      `json:"vlan"`
	Gateway     string   `json:"gateway"`
	MTU         int      `json:"mtu"`
	MAC         string   `json:"mac"`
	DNS         []string `json:"dns"`
	Description string   `json:"description"`
}

// InterfaceView is an interface with the name the host gave it, when the
// agent reports one.
type InterfaceView struct {
	domain.NetworkInterface
	IfName string
}

// Interfaces manages the virtual NICs gateways expose to their hosts.
type Interfaces struct {
	inv      *repository.Inventory
	agent    gateway.Agent
	observer workflow.Observer
	newMAC   func() string
}

// NewInterfaces creates the interface service.
func NewInterfaces(inv *repository.Inventory, agent gateway.Agent, observer workflow.Observer) *Interfaces {
	return &Interfaces{
		inv:      inv,
		agent:    agent,
		observer: observer,
		newMAC: func() string {
			return domain.GenerateMAC(rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
		},
	}
}

func (s *Interfaces) validate(req InterfaceRequest) (domain.NetworkInterface, error) {
	n := domain.NetworkInterface{
		GatewayID:   req.GatewayID,
		IP:          req.IP,
		VLAN:        req.VLAN,
		Gateway:     req.Gateway,
		MTU:         req.MTU,
		DNS:         req.DNS,
		Description: req.Description,
	}
	if _, err := domain.ParseHostPrefix(n.IP); err != nil {
		return n, invalid("interface ip: %v", err)
	}
	if _, err := domain.ParseIPv4(n.Gateway); err != nil {
		return n, invalid("interface gateway: %v", err)
	}
	for _, dns := range n.DNS {
		if _, err := domain.ParseIPv4(dns); err != nil {
			return n, invalid("interface dns: %v", err)
		}
	}
	if n.VLAN < 0 || n.VLAN > 4094 {
		return n, invalid("vlan %d out of range", n.VLAN)
	}
	if n.MTU == 0 {
		n.MTU = defaultMTU
	}
	if n.MTU < 68 || n.MTU > 9216 {
		return n, invalid("mtu %d out of range", n.MTU)
	}
	if req.MAC == "" {
		n.MAC = s.newMAC()
		return n, nil
	}
	mac, err := domain.NormalizeMAC(req.MAC)
	if err != nil {
		return n, invalid("interface mac: %v", err)
	}
	n.MAC = mac
	return n, nil
}

// Create adds the NIC and its switching flow on the gateway and records it.
func (s *Interfaces) Create(ctx context.Context, req InterfaceRequest) (domain.NetworkInterface, error) {
	n, err := s.validate(req)
	if err != nil {
		return domain.NetworkInterface{}, err
	}
	gw, err := read(ctx, s.inv, func(r *repository.Repositories) (domain.Gateway, error) {
		return r.Gateways.FindByID(ctx, n.GatewayID)
	})
	if err != nil {
		return domain.NetworkInterface{}, err
	}

	log := logging.FromContext(ctx).WithFields(logrus.Fields{"gateway": gw.IP, "mac": n.MAC, "vlan": n.VLAN})
	runner := &workflow.Runner{Workflow: "create interface", Log: log, Observer: s.observer}
	err = runner.Run(ctx, []workflow.Step{
		{
			Name:   "net device add",
			Policy: workflow.Critical,
			Run: func(ctx context.Context) error {
				id, err := s.agent.AddNetDevice(ctx, gw.IP, gateway.NetDevice{MAC: n.MAC, MTU: n.MTU})
				n.DeviceID = id
				return err
			},
		},
		{
			Name:   "flow add",
			Policy: workflow.Critical,
			Run: func(ctx context.Context) error {
				return s.agent.AddFlow(ctx, gw.IP, gateway.Flow{
					DeviceID:   n.DeviceID,
					VLAN:       n.VLAN,
					IP:         n.IP,
					Gateway:    n.Gateway,
					SrcMAC:     n.MAC,
					DHCPServer: n.Gateway,
					DNS:        n.DNS,
				})
			},
		},
		{
			Name:   "inventory insert",
			Policy: workflow.Critical,
			Run: func(ctx context.Context) error {
				return s.inv.Session(ctx, func(r *repository.Repositories) error {
					var err error
					n, err = r.Interfaces.Save(ctx, n)
					return err
				})
			},
		},
	})
	if err != nil {
		return domain.NetworkInterface{}, err
	}
	log.WithFields(logrus.Fields{"interface_id": n.ID, "device_id": n.DeviceID}).Info("interface created")
	return n, nil
}

// Delete removes the NIC from the gateway, then the record.
func (s *Interfaces) Delete(ctx context.Context, id string) error {
	type target struct {
		nic domain.NetworkInterface
		gw  domain.Gateway
	}
	t, err := read(ctx, s.inv, func(r *repository.Repositories) (target, error) {
		n, err := r.Interfaces.FindByID(ctx, id)
		if err != nil {
			return target{}, err
		}
		gw, err := r.Gateways.FindByID(ctx, n.GatewayID)
		return target{nic: n, gw: gw}, err
	})
	if err != nil {
		return err
	}

	log := logging.FromContext(ctx).WithFields(logrus.Fields{"gateway": t.gw.IP, "interface_id": id})
	runner := &workflow.Runner{Workflow: "delete interface", Log: log, Observer: s.observer}
	err = runner.Run(ctx, []workflow.Step{
		{
			Name:   "net device delete",
			Policy: workflow.Critical,
			Run: func(ctx context.Context) error {
				return s.agent.DeleteNetDevice(ctx, t.gw.IP, t.nic.DeviceID)
			},
		},
		{
			Name:   "inventory delete",
			Policy: workflow.Critical,
			Run: func(ctx context.Context) error {
				return s.inv.Session(ctx, func(r *repository.Repositories) error {
					return r.Interfaces.DeleteByID(ctx, id)
				})
			},
		},
	})
	if err != nil {
		return err
	}
	log.Info("interface deleted")
	return nil
}

// UpdateDescription changes the description of an interface.
func (s *Interfaces) UpdateDescription(ctx context.Context, id, description string) (domain.NetworkInterface, error) {
	return read(ctx, s.inv, func(r *repository.Repositories) (domain.NetworkInterface, error) {
		n, err := r.Interfaces.FindByID(ctx, id)
		if err != nil {
			return domain.NetworkInterface{}, err
		}
		n.Description = description
		return r.Interfaces.Save(ctx, n)
	})
}

// List returns all interfaces.
func (s *Interfaces) List(ctx context.Context) ([]domain.NetworkInterface, error) {
	return read(ctx, s.inv, func(r *repository.Repositories) ([]domain.NetworkInterface, error) {
		return r.Interfaces.FindAll(ctx)
	})
}

// Get returns an interface and looks up its host-side name on the agent.
// An unreachable agent leaves the name empty.
func (s *Interfaces) Get(ctx context.Context, id string) (InterfaceView, error) {
	var (
		view InterfaceView
		gw   domain.Gateway
	)
	err := s.inv.Session(ctx, func(r *repository.Repositories) error {
		var err error
		if view.NetworkInterface, err = r.Interfaces.FindByID(ctx, id); err != nil {
			return err
		}
		gw, err = r.Gateways.FindByID(ctx, view.GatewayID)
		return err
	})
	if err != nil {
		return InterfaceView{}, err
	}

	nics, err := s.agent.ListNICs(ctx, gw.IP)
	if err != nil {
		logging.FromContext(ctx).WithField("gateway", gw.IP).WithError(err).Warn("failed to list host NICs")
		return view, nil
	}
	addr, _, _ := strings.Cut(view.IP, "/")
	for _, nic := range nics {
		mac, err := domain.NormalizeMAC(nic.MAC)
		if err == nil && nic.IPAddr == addr && mac == view.MAC {
			view.IfName = nic.IfName
			break
		}
	}
	return view, nil
}
