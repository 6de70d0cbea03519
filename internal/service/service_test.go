package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/homelab/brain/internal/domain"
	"github.com/jbweber/homelab/brain/internal/efi"
	"github.com/jbweber/homelab/brain/internal/gateway"
	"github.com/jbweber/homelab/brain/internal/repository"
	"github.com/jbweber/homelab/brain/internal/testutil"
	"github.com/jbweber/homelab/brain/internal/workflow"
)

const (
	cluster  = "10.20.0.5"
	snapName = "brain_snap"
)

func newInventory(t *testing.T) *repository.Inventory {
	return repository.NewInventory(testutil.NewTestDatastore(t))
}

func ptr[T any](v T) *T { return &v }

func registerHost(t *testing.T, hosts *Hosts) domain.Host {
	t.Helper()
	h, err := hosts.Register(context.Background(), HostRequest{
		Name:    "host1",
		IP:      "192.168.10.21",
		MAC:     "52-54-00-AB-CD-EF",
		Gateway: "192.168.10.1",
	})
	require.NoError(t, err)
	return h
}

func TestHosts_Register(t *testing.T) {
	hosts := NewHosts(newInventory(t), nil, 2, 254)
	ctx := context.Background()

	h := registerHost(t, hosts)
	assert.NotEmpty(t, h.ID)
	assert.Equal(t, "52:54:00:ab:cd:ef", h.MAC)
	assert.Equal(t, "192.168.254.21", hosts.BMCAddress(h))

	tests := []struct {
		name string
		req  HostRequest
		want error
	}{
		{"duplicate name", HostRequest{Name: "host1", IP: "192.168.10.22", MAC: "52:54:00:00:00:02"}, repository.ErrDuplicate},
		{"duplicate ip", HostRequest{Name: "host2", IP: "192.168.10.21", MAC: "52:54:00:00:00:02"}, repository.ErrDuplicate},
		{"duplicate mac", HostRequest{Name: "host2", IP: "192.168.10.22", MAC: "52:54:00:AB:CD:EF"}, repository.ErrDuplicate},
		{"broadcast mac", HostRequest{Name: "host2", IP: "192.168.10.22", MAC: "ff:ff:ff:ff:ff:ff"}, repository.ErrInvalidEntity},
		{"zero mac", HostRequest{Name: "host2", IP: "192.168.10.22", MAC: "00:00:00:00:00:00"}, repository.ErrInvalidEntity},
		{"bad ip", HostRequest{Name: "host2", IP: "192.168.10", MAC: "52:54:00:00:00:02"}, repository.ErrInvalidEntity},
		{"missing name", HostRequest{IP: "192.168.10.22", MAC: "52:54:00:00:00:02"}, repository.ErrInvalidEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := hosts.Register(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHosts_UpdateAndDelete(t *testing.T) {
	inv := newInventory(t)
	hosts := NewHosts(inv, nil, 2, 254)
	gateways := NewGateways(inv, testutil.NewFakeAgent(1))
	ctx := context.Background()
	h := registerHost(t, hosts)

	updated, err := hosts.Update(ctx, h.ID, HostPatch{Description: ptr("rack 3"), MAC: ptr("52:54:00:AB:CD:01")})
	require.NoError(t, err)
	assert.Equal(t, "rack 3", updated.Description)
	assert.Equal(t, "52:54:00:ab:cd:01", updated.MAC)
	assert.Equal(t, h.IP, updated.IP)

	_, err = hosts.Update(ctx, h.ID, HostPatch{IP: ptr("not-an-ip")})
	assert.ErrorIs(t, err, repository.ErrInvalidEntity)

	gw, err := gateways.Register(ctx, GatewayRequest{Name: "gw1", IP: "192.168.20.21", HostID: h.ID})
	require.NoError(t, err)
	assert.ErrorIs(t, hosts.Delete(ctx, h.ID), repository.ErrInUse)

	require.NoError(t, gateways.Delete(ctx, gw.ID))
	require.NoError(t, hosts.Delete(ctx, h.ID))
	_, err = hosts.Get(ctx, h.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestHosts_Credentials(t *testing.T) {
	hosts := NewHosts(newInventory(t), nil, 2, 254)
	ctx := context.Background()
	h := registerHost(t, hosts)

	_, err := hosts.SetCredentials(ctx, h.ID, "root", "")
	assert.ErrorIs(t, err, repository.ErrInvalidEntity)

	saved, err := hosts.SetCredentials(ctx, h.ID, "root", "pw")
	require.NoError(t, err)
	assert.True(t, saved.HasCredentials())

	cleared, err := hosts.SetCredentials(ctx, h.ID, "", "")
	require.NoError(t, err)
	assert.False(t, cleared.HasCredentials())
}

func TestHosts_BootEntries(t *testing.T) {
	shell := testutil.NewFakeShell()
	fw := testutil.NewFakeFirmware(shell)
	fw.AttachDisk("/dev/sda", 500*domain.GiB, "0f0f0f0f-0000-0000-0000-000000000000")
	fw.AddEntry("rocky", "0f0f0f0f-0000-0000-0000-000000000000")
	fw.AddEntry("stale", "deadbeef-0000-0000-0000-000000000000")
	boot := efi.NewManager(shell, efi.Options{Loader: `\EFI\BOOT\BOOTX64.EFI`, SizeTolerance: domain.GiB})

	hosts := NewHosts(newInventory(t), boot, 2, 254)
	ctx := context.Background()
	h := registerHost(t, hosts)

	_, err := hosts.BootEntries(ctx, h.ID)
	assert.ErrorIs(t, err, repository.ErrInvalidEntity, "no credentials saved yet")
	assert.Empty(t, shell.Commands())

	_, err = hosts.SetCredentials(ctx, h.ID, "root", "pw")
	require.NoError(t, err)

	require.NoError(t, hosts.VerifyCredentials(ctx, h.ID))

	table, err := hosts.BootEntries(ctx, h.ID)
	require.NoError(t, err)
	require.Len(t, table.Entries, 2)
	assert.Equal(t, "rocky", table.Entries[0].Label)

	removed, err := hosts.CleanupBootEntries(ctx, h.ID)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, "stale", removed[0].Label)
	assert.Equal(t, []string{"rocky"}, fw.Labels())

	assert.ErrorIs(t, hosts.SetBootNext(ctx, h.ID, 0x0009), efi.ErrNoEntry)
	assert.True(t, shell.Ran("192.168.10.21: efibootmgr -v"))
}

func TestGateways_Register(t *testing.T) {
	inv := newInventory(t)
	agent := testutil.NewFakeAgent(1)
	agent.SetCloudDisk("192.168.20.21", true)
	gateways := NewGateways(inv, agent)
	ctx := context.Background()

	gw, err := gateways.Register(ctx, GatewayRequest{Name: "gw1", IP: "192.168.20.21"})
	require.NoError(t, err)
	assert.True(t, gw.CloudDiskEnabled)

	agent.FailOn("get clouddisk setting", errors.New("connection refused"))
	gw2, err := gateways.Register(ctx, GatewayRequest{Name: "gw2", IP: "192.168.20.22"})
	require.NoError(t, err)
	assert.False(t, gw2.CloudDiskEnabled)

	_, err = gateways.Register(ctx, GatewayRequest{Name: "gw1", IP: "192.168.20.23"})
	assert.ErrorIs(t, err, repository.ErrDuplicate)
	_, err = gateways.Register(ctx, GatewayRequest{Name: "gw3", IP: "192.168.20.21"})
	assert.ErrorIs(t, err, repository.ErrDuplicate)
	_, err = gateways.Register(ctx, GatewayRequest{Name: "gw3", IP: "192.168.20.23", HostID: "missing"})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestGateways_UpdateCloudDisk(t *testing.T) {
	agent := testutil.NewFakeAgent(1)
	gateways := NewGateways(newInventory(t), agent)
	ctx := context.Background()
	gw, err := gateways.Register(ctx, GatewayRequest{Name: "gw1", IP: "192.168.20.21"})
	require.NoError(t, err)

	updated, err := gateways.Update(ctx, gw.ID, GatewayPatch{CloudDiskEnabled: ptr(true)})
	require.NoError(t, err)
	assert.True(t, updated.CloudDiskEnabled)
	enabled, err := agent.CloudDiskEnabled(ctx, gw.IP)
	require.NoError(t, err)
	assert.True(t, enabled)

	agent.RejectOn("set clouddisk setting", 1, "busy")
	updated, err = gateways.Update(ctx, gw.ID, GatewayPatch{CloudDiskEnabled: ptr(false), Description: ptr("lab")})
	require.NoError(t, err)
	assert.True(t, updated.CloudDiskEnabled, "agent refused, cached value kept")
	assert.Equal(t, "lab", updated.Description)

	calls := agent.Count("set clouddisk setting")
	_, err = gateways.Update(ctx, gw.ID, GatewayPatch{CloudDiskEnabled: ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, calls, agent.Count("set clouddisk setting"), "unchanged value is not pushed")
}

func TestImages_RegisterAndDelete(t *testing.T) {
	store := testutil.NewFakeStorage()
	store.AddImage("images/ubuntu22", "", 20*domain.GiB)
	images := NewImages(newInventory(t), store, snapName, nil)
	ctx := context.Background()

	img, err := images.Register(ctx, ImageRequest{Name: "ubuntu22", Location: "images/ubuntu22", Cluster: cluster, MinSizeGB: 20})
	require.NoError(t, err)
	assert.False(t, img.Managed)
	exists, protected := store.Snapshot("images/ubuntu22", snapName)
	assert.True(t, exists)
	assert.True(t, protected)

	_, err = images.Register(ctx, ImageRequest{Name: "ubuntu22", Location: "images/other", Cluster: cluster, MinSizeGB: 20})
	assert.ErrorIs(t, err, repository.ErrDuplicate)
	_, err = images.Register(ctx, ImageRequest{Name: "other", Location: "images/ubuntu22", Cluster: cluster, MinSizeGB: 20})
	assert.ErrorIs(t, err, repository.ErrDuplicate)
	_, err = images.Register(ctx, ImageRequest{Name: "other", Location: "no-pool", Cluster: cluster, MinSizeGB: 20})
	assert.ErrorIs(t, err, repository.ErrInvalidEntity)

	require.NoError(t, images.Delete(ctx, img.ID))
	exists, _ = store.Snapshot("images/ubuntu22", snapName)
	assert.False(t, exists)
	assert.True(t, store.HasImage("images/ubuntu22"), "unmanaged storage image is kept")
	_, err = images.Get(ctx, img.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestImages_DeleteManagedAndInUse(t *testing.T) {
	inv := newInventory(t)
	store := testutil.NewFakeStorage()
	store.AddImage("images/golden", snapName, 40*domain.GiB)
	images := NewImages(inv, store, snapName, nil)
	ctx := context.Background()

	var img domain.Image
	err := inv.Session(ctx, func(r *repository.Repositories) error {
		var err error
		img, err = r.Images.Save(ctx, domain.Image{Name: "golden", Location: "images/golden", Cluster: cluster, MinSizeGB: 40, Managed: true})
		if err != nil {
			return err
		}
		_, err = r.SystemDisks.Save(ctx, domain.SystemDisk{ImageID: img.ID, GatewayID: "gw1", SizeGB: 40, PoolPath: "compute/d1"})
		return err
	})
	require.NoError(t, err)

	assert.ErrorIs(t, images.Delete(ctx, img.ID), repository.ErrInUse)
	assert.Empty(t, store.Calls())

	err = inv.Session(ctx, func(r *repository.Repositories) error {
		disk, err := r.SystemDisks.FindByPoolPath(ctx, "compute/d1")
		if err != nil {
			return err
		}
		return r.SystemDisks.DeleteByID(ctx, disk.ID)
	})
	require.NoError(t, err)

	require.NoError(t, images.Delete(ctx, img.ID))
	assert.False(t, store.HasImage("images/golden"))
}

func TestImages_DeleteStorageFailureKeepsRecord(t *testing.T) {
	store := testutil.NewFakeStorage()
	store.AddImage("images/ubuntu22", "", 20*domain.GiB)
	images := NewImages(newInventory(t), store, snapName, nil)
	ctx := context.Background()
	img, err := images.Register(ctx, ImageRequest{Name: "ubuntu22", Location: "images/ubuntu22", Cluster: cluster, MinSizeGB: 20})
	require.NoError(t, err)

	store.FailOn("delete snapshot", errors.New("snapshot has children"))
	err = images.Delete(ctx, img.ID)
	var stepErr *workflow.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "delete snapshot", stepErr.Step)

	_, err = images.Get(ctx, img.ID)
	assert.NoError(t, err)
}

func TestImages_Update(t *testing.T) {
	store := testutil.NewFakeStorage()
	store.AddImage("images/ubuntu22", "", 20*domain.GiB)
	images := NewImages(newInventory(t), store, snapName, nil)
	ctx := context.Background()
	img, err := images.Register(ctx, ImageRequest{Name: "ubuntu22", Location: "images/ubuntu22", Cluster: cluster, MinSizeGB: 20})
	require.NoError(t, err)

	updated, err := images.Update(ctx, img.ID, ImagePatch{MinSizeGB: ptr(int64(30)), Description: ptr("jammy")})
	require.NoError(t, err)
	assert.Equal(t, int64(30), updated.MinSizeGB)
	assert.Equal(t, "jammy", updated.Description)
	assert.Equal(t, img.Location, updated.Location)

	_, err = images.Update(ctx, img.ID, ImagePatch{MinSizeGB: ptr(int64(0))})
	assert.ErrorIs(t, err, repository.ErrInvalidEntity)
}

func TestInterfaces_CreateGetDelete(t *testing.T) {
	inv := newInventory(t)
	agent := testutil.NewFakeAgent(1)
	gateways := NewGateways(inv, agent)
	nics := NewInterfaces(inv, agent, nil)
	ctx := context.Background()

	gw, err := gateways.Register(ctx, GatewayRequest{Name: "gw1", IP: "192.168.20.21"})
	require.NoError(t, err)

	n, err := nics.Create(ctx, InterfaceRequest{
		GatewayID: gw.ID,
		IP:        "10.1.0.10/24",
		VLAN:      100,
		Gateway:   "10.1.0.1",
		DNS:       []string{"10.0.0.50"},
	})
	require.NoError(t, err)
	assert.Regexp(t, `^02:00:[0-7][0-9a-f](:[0-9a-f]{2}){3}$`, n.MAC)
	assert.Equal(t, 1500, n.MTU)
	assert.Equal(t, []string{n.DeviceID}, agent.NetDevices(gw.IP))
	require.Len(t, agent.Flows(), 1)
	flow := agent.Flows()[0]
	assert.Equal(t, gateway.Flow{
		DeviceID:   n.DeviceID,
		VLAN:       100,
		IP:         "10.1.0.10/24",
		Gateway:    "10.1.0.1",
		SrcMAC:     n.MAC,
		DHCPServer: "10.1.0.1",
		DNS:        []string{"10.0.0.50"},
	}, flow)

	agent.SetNICs(gw.IP, []gateway.NIC{
		{IfName: "eth0", IPAddr: "192.168.10.21", MAC: "52-54-00-ab-cd-ef"},
		{IfName: "eth1", IPAddr: "10.1.0.10", MAC: n.MAC},
	})
	view, err := nics.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "eth1", view.IfName)

	agent.FailOn("list nics", errors.New("timeout"))
	view, err = nics.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.Empty(t, view.IfName)

	assert.ErrorIs(t, gateways.Delete(ctx, gw.ID), repository.ErrInUse)

	require.NoError(t, nics.Delete(ctx, n.ID))
	assert.Empty(t, agent.NetDevices(gw.IP))
	_, err = nics.Get(ctx, n.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestInterfaces_CreateFailures(t *testing.T) {
	inv := newInventory(t)
	agent := testutil.NewFakeAgent(1)
	gw, err := NewGateways(inv, agent).Register(context.Background(), GatewayRequest{Name: "gw1", IP: "192.168.20.21"})
	require.NoError(t, err)
	nics := NewInterfaces(inv, agent, nil)
	ctx := context.Background()

	valid := InterfaceRequest{GatewayID: gw.ID, IP: "10.1.0.10/24", Gateway: "10.1.0.1", MAC: "02:00:00:00:00:01"}

	tests := []struct {
		name   string
		mutate func(*InterfaceRequest)
		want   error
	}{
		{"network address", func(r *InterfaceRequest) { r.IP = "10.1.0.0/24" }, repository.ErrInvalidEntity},
		{"missing prefix", func(r *InterfaceRequest) { r.IP = "10.1.0.10" }, repository.ErrInvalidEntity},
		{"bad vlan", func(r *InterfaceRequest) { r.VLAN = 5000 }, repository.ErrInvalidEntity},
		{"bad mac", func(r *InterfaceRequest) { r.MAC = "zz" }, repository.ErrInvalidEntity},
		{"unknown gateway", func(r *InterfaceRequest) { r.GatewayID = "missing" }, repository.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			_, err := nics.Create(ctx, req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, 0, agent.Count("xscnet add"))

	agent.RejectOn("ovsflow add", 4, "vlan busy")
	_, err = nics.Create(ctx, valid)
	var stepErr *workflow.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "flow add", stepErr.Step)
	all, err := nics.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
