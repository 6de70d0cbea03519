package domain

// GiB is the size unit used for disks and images.
const GiB int64 = 1 << 30

// Host represents a bare-metal server managed through its companion gateway
type Host struct {
	ID          string // Unique identifier
	Name        string // Host name
	Description string // Optional description
	IP          string // Management IPv4 address (unique)
	MAC         string // Primary NIC MAC address, lower-case colon form (unique)
	Gateway     string // Default gateway used for the first-boot network config
	OSUser      string // Saved OS user for remote shell access (optional)
	OSPassword  string // Saved OS password for remote shell access (optional)
}

// HasCredentials reports whether OS credentials were saved for the host.
func (h Host) HasCredentials() bool {
	return h.OSUser != "" && h.OSPassword != ""
}

// Gateway represents the device-gateway agent running on a host's compute card
type Gateway struct {
	ID               string // Unique identifier
	Name             string // Gateway name
	Description      string // Optional description
	IP               string // Agent management IPv4 address (unique)
	HostID           string // Host this gateway serves
	CloudDiskEnabled bool   // Cached copy of the agent's cloud-disk setting
}

// Image represents a bootable source image in the storage pool
type Image struct {
	ID          string // Unique identifier
	Name        string // Image name, unique per cluster
	Description string // Optional description
	Location    string // Storage location as pool/name, unique per cluster
	Cluster     string // Storage cluster address
	MinSizeGB   int64  // Minimum disk size that can hold the image
	Managed     bool   // True when the storage image was created by this service
}

// SystemDisk represents a storage-backed virtual block device attached to a gateway
type SystemDisk struct {
	ID          string // Unique identifier
	ImageID     string // Source image
	GatewayID   string // Owning gateway
	GatewayIP   string // Owning gateway address, cached at creation
	Cluster     string // Storage cluster address
	SizeGB      int64  // Disk size in GiB
	Flatten     bool   // Whether the clone was flattened
	PoolPath    string // Storage image as pool/name (unique)
	BlockID     int64  // Gateway block device identifier
	Description string // Optional description
}

// SizeBytes returns the disk size in bytes.
func (d SystemDisk) SizeBytes() int64 {
	return d.SizeGB * GiB
}

// NetworkInterface represents a virtual NIC exposed by a gateway to its host
type NetworkInterface struct {
	ID          string   // Unique identifier
	GatewayID   string   // Owning gateway
	IP          string   // Address with prefix length, e.g. 192.168.1.10/24
	VLAN        int      // VLAN tag
	Gateway     string   // Gateway address for the interface
	MTU         int      // MTU, 1500 when unset
	MAC         string   // MAC address, generated when absent
	DNS         []string // DNS servers (optional)
	DeviceID    string   // Gateway-assigned network device identifier
	Description string   // Optional description
}
