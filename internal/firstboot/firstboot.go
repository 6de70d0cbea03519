// Package firstboot builds the cloud-init NoCloud documents pushed to a
// gateway so a freshly provisioned system disk configures its user and
// network on first boot.
package firstboot

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/homelab/brain/internal/domain"
)

// User is a login created on first boot.
type User struct {
	Name     string `json:"name" yaml:"name"`
	Password string `json:"password" yaml:"password"`
}

// UserData is the cloud-init user-data document.
type UserData struct {
	Users []User `json:"users" yaml:"users"`
}

// Ethernet is one physical interface in a version 1 network config.
type Ethernet struct {
	Name        string   `json:"name" yaml:"name"`
	MAC         string   `json:"mac" yaml:"mac"`
	DHCP4       bool     `json:"dhcp4" yaml:"dhcp4"`
	DHCP6       bool     `json:"dhcp6" yaml:"dhcp6"`
	Addresses   []string `json:"addresses" yaml:"addresses"`
	Gateway4    string   `json:"gateway4,omitempty" yaml:"gateway4,omitempty"`
	Nameservers []string `json:"nameservers,omitempty" yaml:"nameservers,omitempty"`
}

// NetworkConfig is the cloud-init network-config document.
type NetworkConfig struct {
	Version   int        `json:"version" yaml:"version"`
	Ethernets []Ethernet `json:"ethernets" yaml:"ethernets"`
}

// Documents is the pair of documents sent to the gateway.
type Documents struct {
	UserData      UserData
	NetworkConfig NetworkConfig
}

// Build creates the documents for host: one user and a static address on
// eth0 matched by the host MAC.
func Build(host domain.Host, user User, nameservers []string) (Documents, error) {
	if user.Name == "" || user.Password == "" {
		return Documents{}, errors.New("first-boot user name and password are required")
	}
	if _, err := domain.ParseIPv4(host.IP); err != nil {
		return Documents{}, fmt.Errorf("host %s: %w", host.Name, err)
	}
	mac, err := domain.NormalizeMAC(host.MAC)
	if err != nil {
		return Documents{}, fmt.Errorf("host %s: %w", host.Name, err)
	}

	return Documents{
		UserData: UserData{Users: []User{user}},
		NetworkConfig: NetworkConfig{
			Version: 1,
			Ethernets: []Ethernet{{
				Name:        "eth0",
				MAC:         mac,
				Addresses:   []string{host.IP + "/24"},
				Gateway4:    host.Gateway,
				Nameservers: append([]string(nil), nameservers...),
			}},
		},
	}, nil
}

// Render returns the documents as they would appear on a NoCloud seed.
// Passwords are masked.
func (d Documents) Render() (userData, networkConfig string, err error) {
	masked := UserData{Users: make([]User, len(d.UserData.Users))}
	for i, u := range d.UserData.Users {
		masked.Users[i] = User{Name: u.Name, Password: "********"}
	}
	ud, err := yaml.Marshal(masked)
	if err != nil {
		return "", "", fmt.Errorf("render user-data: %w", err)
	}
	nc, err := yaml.Marshal(d.NetworkConfig)
	if err != nil {
		return "", "", fmt.Errorf("render network-config: %w", err)
	}
	return "#cloud-config\n" + string(ud), string(nc), nil
}
