package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jbweber/homelab/brain/internal/datastore"
	"github.com/jbweber/homelab/brain/internal/domain"
)

// InterfaceRepository defines domain-specific operations for network interfaces
type InterfaceRepository interface {
	Repository[domain.NetworkInterface, string]
	FindByGatewayID(ctx context.Context, gatewayID string) ([]domain.NetworkInterface, error)
}

type interfaceRepositoryImpl struct {
	db datastore.DBTX
}

// NewInterfaceRepository creates a new network interface repository
func NewInterfaceRepository(db datastore.DBTX) InterfaceRepository {
	return &interfaceRepositoryImpl{db: db}
}

const interfaceColumns = "id, gateway_id, ip, vlan, gateway, mtu, mac, dns, device_id, description"

func scanInterface(row rowScanner) (domain.NetworkInterface, error) {
	var n domain.NetworkInterface
	var dns string
	err := row.Scan(&n.ID, &n.GatewayID, &n.IP, &n.VLAN, &n.Gateway, &n.MTU, &n.MAC, &dns, &n.DeviceID, &n.Description)
	if dns != "" {
		n.DNS = strings.Split(dns, ",")
	}
	return n, err
}

// Save creates or updates a network interface. An empty ID is assigned a new UUID.
func (r *interfaceRepositoryImpl) Save(ctx context.Context, n domain.NetworkInterface) (domain.NetworkInterface, error) {
	if n.GatewayID == "" || n.IP == "" || n.MAC == "" {
		return domain.NetworkInterface{}, fmt.Errorf("interface gateway, ip and mac are required: %w", ErrInvalidEntity)
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO network_interfaces (`+interfaceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			gateway_id = excluded.gateway_id, ip = excluded.ip, vlan = excluded.vlan,
			gateway = excluded.gateway, mtu = excluded.mtu, mac = excluded.mac, dns = excluded.dns,
			device_id = excluded.device_id, description = excluded.description,
			updated_at = CURRENT_TIMESTAMP`,
		n.ID, n.GatewayID, n.IP, n.VLAN, n.Gateway, n.MTU, n.MAC, strings.Join(n.DNS, ","), n.DeviceID, n.Description)
	if err != nil {
		return domain.NetworkInterface{}, saveErr("interface "+n.MAC, err)
	}
	return n, nil
}

// FindByID retrieves a network interface by its ID
func (r *interfaceRepositoryImpl) FindByID(ctx context.Context, id string) (domain.NetworkInterface, error) {
	return queryOne(ctx, r.db, scanInterface, "interface "+id,
		"SELECT "+interfaceColumns+" FROM network_interfaces WHERE id = ?", id)
}

// FindAll retrieves all network interfaces
func (r *interfaceRepositoryImpl) FindAll(ctx context.Context) ([]domain.NetworkInterface, error) {
	nics, err := queryAll(ctx, r.db, scanInterface,
		"SELECT "+interfaceColumns+" FROM network_interfaces ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	return nics, nil
}

// DeleteByID removes a network interface by its ID
func (r *interfaceRepositoryImpl) DeleteByID(ctx context.Context, id string) error {
	return deleteOne(ctx, r.db, "network_interfaces", "interface", id)
}

// ExistsByID checks if a network interface exists by its ID
func (r *interfaceRepositoryImpl) ExistsByID(ctx context.Context, id string) (bool, error) {
	ok, err := exists(ctx, r.db, "network_interfaces", id)
	if err != nil {
		return false, fmt.Errorf("failed to check interface existence: %w", err)
	}
	return ok, nil
}

// FindByGatewayID lists the interfaces exposed by a gateway
func (r *interfaceRepositoryImpl) FindByGatewayID(ctx context.Context, gatewayID string) ([]domain.NetworkInterface, error) {
	nics, err := queryAll(ctx, r.db, scanInterface,
		"SELECT "+interfaceColumns+" FROM network_interfaces WHERE gateway_id = ? ORDER BY created_at, id", gatewayID)
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces for gateway %s: %w", gatewayID, err)
	}
	return nics, nil
}
