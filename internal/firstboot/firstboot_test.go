package firstboot

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/homelab/brain/internal/domain"
)

func testHost() domain.Host {
	return domain.Host{
		Name:    "h1",
		IP:      "192.168.10.21",
		MAC:     "AA-BB-CC-DD-EE-FF",
		Gateway: "192.168.10.1",
	}
}

func TestBuild(t *testing.T) {
	docs, err := Build(testHost(), User{Name: "root", Password: "pw"}, []string{"10.0.0.50", "10.0.0.51"})
	require.NoError(t, err)

	assert.Equal(t, []User{{Name: "root", Password: "pw"}}, docs.UserData.Users)
	require.Len(t, docs.NetworkConfig.Ethernets, 1)
	eth := docs.NetworkConfig.Ethernets[0]
	assert.Equal(t, 1, docs.NetworkConfig.Version)
	assert.Equal(t, "eth0", eth.Name)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", eth.MAC)
	assert.False(t, eth.DHCP4)
	assert.False(t, eth.DHCP6)
	assert.Equal(t, []string{"192.168.10.21/24"}, eth.Addresses)
	assert.Equal(t, "192.168.10.1", eth.Gateway4)
	assert.Equal(t, []string{"10.0.0.50", "10.0.0.51"}, eth.Nameservers)
}

func TestBuild_JSONShape(t *testing.T) {
	docs, err := Build(testHost(), User{Name: "root", Password: "pw"}, nil)
	require.NoError(t, err)

	data, err := json.Marshal(docs.NetworkConfig)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"version": 1,
		"ethernets": [{
			"name": "eth0",
			"mac": "aa:bb:cc:dd:ee:ff",
			"dhcp4": false,
			"dhcp6": false,
			"addresses": ["192.168.10.21/24"],
			"gateway4": "192.168.10.1"
		}]
	}`, string(data))
}

func TestBuild_Invalid(t *testing.T) {
	tests := []struct {
		name string
		host domain.Host
		user User
	}{
		{name: "missing password", host: testHost(), user: User{Name: "root"}},
		{name: "bad ip", host: domain.Host{IP: "nope", MAC: "aa:bb:cc:dd:ee:ff"}, user: User{Name: "root", Password: "pw"}},
		{name: "bad mac", host: domain.Host{IP: "10.0.0.1", MAC: "00:00:00:00:00:00"}, user: User{Name: "root", Password: "pw"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.host, tt.user, nil)
			assert.Error(t, err)
		})
	}
}

func TestRender(t *testing.T) {
	docs, err := Build(testHost(), User{Name: "root", Password: "pw"}, []string{"10.0.0.50"})
	require.NoError(t, err)

	ud, nc, err := docs.Render()
	require.NoError(t, err)
	assert.Contains(t, ud, "#cloud-config\n")
	assert.NotContains(t, ud, "pw\n")

	var parsed NetworkConfig
	require.NoError(t, yaml.Unmarshal([]byte(nc), &parsed))
	assert.Equal(t, docs.NetworkConfig, parsed)
}
