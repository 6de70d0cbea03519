// Package gateway talks to the device gateway agent that runs on each
// compute card and exposes storage-backed block and network devices to the
// host.
package gateway

import (
	"context"
	"fmt"
)

// BlockDevice identifies a storage image mapped as a bootable block device.
type BlockDevice struct {
	PoolPath string // storage image as pool/name
	Cluster  string // storage gateway address
	BlockID  int64  // agent-assigned id, only used when deleting
}

// NetDevice describes a virtual NIC to create.
type NetDevice struct {
	MAC string
	MTU int
}

// Flow describes the switching rules attached to a virtual NIC.
type Flow struct {
	DeviceID   string
	VLAN       int
	IP         string // address with prefix length
	Gateway    string
	SrcMAC     string
	DHCPServer string
	DNS        []string
}

// NIC is a network interface as seen by the agent.
type NIC struct {
	IfName string `json:"ifname"`
	IPAddr string `json:"ip_addr"`
	MAC    string `json:"mac"`
}

// Agent is the set of gateway agent operations used by the workflows. Every
// call addresses the agent by its management IP.
type Agent interface {
	AddBlockDevice(ctx context.Context, addr string, dev BlockDevice) (int64, error)
	DeleteBlockDevice(ctx context.Context, addr string, dev BlockDevice) error
	// CreateFirstBoot installs the first-boot datasource served to the host.
	CreateFirstBoot(ctx context.Context, addr string, userData, networkConfig any) error
	DeleteFirstBoot(ctx context.Context, addr string) error
	// SaveCheckpoint persists the agent's device configuration across restarts.
	SaveCheckpoint(ctx context.Context, addr string) error
	CloudDiskEnabled(ctx context.Context, addr string) (bool, error)
	SetCloudDiskEnabled(ctx context.Context, addr string, enabled bool) error
	AddNetDevice(ctx context.Context, addr string, dev NetDevice) (string, error)
	DeleteNetDevice(ctx context.Context, addr string, deviceID string) error
	AddFlow(ctx context.Context, addr string, flow Flow) error
	ListNICs(ctx context.Context, addr string) ([]NIC, error)
}

// AgentError is returned when the agent rejects a request, either with a
// non-2xx HTTP status or a non-zero result code.
type AgentError struct {
	Op      string
	Status  int
	Code    int
	Message string
}

func (e *AgentError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("gateway %s: code %d: %s", e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway %s: status %d: %s", e.Op, e.Status, e.Message)
}
