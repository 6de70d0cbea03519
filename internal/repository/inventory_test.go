package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/homelab/brain/internal/domain"
	"github.com/jbweber/homelab/brain/internal/testutil"
)

func TestInventory_SessionCommits(t *testing.T) {
	inv := NewInventory(testutil.NewTestDatastore(t))
	ctx := context.Background()

	var gwID string
	err := inv.Session(ctx, func(r *Repositories) error {
		gw, err := r.Gateways.Save(ctx, domain.Gateway{Name: "gw1", IP: "10.1.0.1"})
		if err != nil {
			return err
		}
		gwID = gw.ID
		_, err = r.SystemDisks.Save(ctx, newDisk(gw.ID, "img1", "compute/a", 1))
		return err
	})
	require.NoError(t, err)

	err = inv.Session(ctx, func(r *Repositories) error {
		n, err := r.SystemDisks.CountByGatewayID(ctx, gwID)
		if err != nil {
			return err
		}
		assert.Equal(t, 1, n)
		return nil
	})
	require.NoError(t, err)
}

func TestInventory_SessionRollsBack(t *testing.T) {
	inv := NewInventory(testutil.NewTestDatastore(t))
	ctx := context.Background()
	boom := errors.New("boom")

	err := inv.Session(ctx, func(r *Repositories) error {
		if _, err := r.Images.Save(ctx, domain.Image{Name: "img", Location: "images/img", Cluster: "c", MinSizeGB: 10}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = inv.Session(ctx, func(r *Repositories) error {
		all, err := r.Images.FindAll(ctx)
		if err != nil {
			return err
		}
		assert.Empty(t, all)
		return nil
	})
	require.NoError(t, err)
}

func TestInterfaceRepository_DNSRoundTrip(t *testing.T) {
	repo := NewInterfaceRepository(testutil.NewTestDatastore(t).DB)
	ctx := context.Background()

	saved, err := repo.Save(ctx, domain.NetworkInterface{
		GatewayID: "gw1",
		IP:        "192.168.1.10/24",
		VLAN:      100,
		Gateway:   "192.168.1.1",
		MTU:       1500,
		MAC:       "02:00:00:00:00:01",
		DNS:       []string{"10.0.0.50", "10.0.0.51"},
	})
	require.NoError(t, err)

	found, err := repo.FindByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.50", "10.0.0.51"}, found.DNS)

	onGW, err := repo.FindByGatewayID(ctx, "gw1")
	require.NoError(t, err)
	assert.Len(t, onGW, 1)

	_, err = repo.Save(ctx, domain.NetworkInterface{GatewayID: "gw2", IP: "192.168.1.11/24", MAC: "02:00:00:00:00:01"})
	assert.ErrorIs(t, err, ErrDuplicate)
}
