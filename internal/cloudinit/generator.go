// Package cloudinit renders the NoCloud seed that configures a crucible
// machine on first boot: hostname, the build user with its SSH key and
// passwordless sudo, and static networking.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/datasources/nocloud.html
package cloudinit

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/crucible/api/v1alpha1"
	"github.com/jbweber/crucible/internal/naming"
)

// Input is everything the seed is rendered from.
type Input struct {
	// InstanceID changes whenever the machine is recreated so cloud-init
	// runs again.
	InstanceID     string
	Hostname       string
	User           string
	AuthorizedKeys []string
	Interfaces     []Interface
}

// Interface is one statically configured NIC.
type Interface struct {
	MACAddress   string
	Address      string
	Gateway      string
	DNSServers   []string
	DefaultRoute bool
}

// InputFor builds the seed input for machine m running as domain.
func InputFor(instanceID string, m *v1alpha1.MachineSpec, user string, keys []string) (*Input, error) {
	if m == nil {
		return nil, fmt.Errorf("machine cannot be nil")
	}
	in := &Input{
		InstanceID:     instanceID,
		Hostname:       m.Name,
		User:           user,
		AuthorizedKeys: keys,
	}
	for _, nic := range m.NetworkInterfaces {
		mac, err := naming.MACFromIP(nic.IP)
		if err != nil {
			return nil, fmt.Errorf("failed to derive MAC for %s: %w", nic.IP, err)
		}
		in.Interfaces = append(in.Interfaces, Interface{
			MACAddress:   mac,
			Address:      nic.IP,
			Gateway:      nic.Gateway,
			DNSServers:   nic.DNSServers,
			DefaultRoute: nic.DefaultRoute,
		})
	}
	return in, nil
}

// Validate checks the fields every seed needs.
func (in *Input) Validate() error {
	if in.InstanceID == "" {
		return fmt.Errorf("instance id is required")
	}
	if in.Hostname == "" {
		return fmt.Errorf("hostname is required")
	}
	if in.User == "" {
		return fmt.Errorf("user is required")
	}
	if len(in.AuthorizedKeys) == 0 {
		return fmt.Errorf("at least one authorized key is required")
	}
	if len(in.Interfaces) == 0 {
		return fmt.Errorf("at least one network interface is required")
	}
	return nil
}

// UserData is the cloud-config document.
//
// See https://cloudinit.readthedocs.io/en/latest/explanation/format.html#cloud-config-data
type UserData struct {
	Hostname        string  `yaml:"hostname"`
	FQDN            string  `yaml:"fqdn"`
	Users           []User  `yaml:"users"`
	SSHPasswordAuth bool    `yaml:"ssh_pwauth"`
	Output          *Output `yaml:"output,omitempty"`
}

// User is a cloud-config user entry.
type User struct {
	Name              string   `yaml:"name"`
	Sudo              string   `yaml:"sudo"`
	Shell             string   `yaml:"shell"`
	LockPasswd        bool     `yaml:"lock_passwd"`
	SSHAuthorizedKeys []string `yaml:"ssh_authorized_keys"`
}

// Output configures cloud-init output logging.
type Output struct {
	All string `yaml:"all"`
}

// MetaData is the NoCloud meta-data document.
type MetaData struct {
	InstanceID    string `yaml:"instance-id"`
	LocalHostname string `yaml:"local-hostname"`
}

// NetworkConfig is a network config v2 document.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/network-config-format-v2.html
type NetworkConfig struct {
	Version   int                       `yaml:"version"`
	Ethernets map[string]EthernetConfig `yaml:"ethernets"`
}

// EthernetConfig configures one interface matched by MAC address.
type EthernetConfig struct {
	Match       MatchConfig   `yaml:"match"`
	SetName     string        `yaml:"set-name"`
	Addresses   []string      `yaml:"addresses"`
	Routes      []RouteConfig `yaml:"routes,omitempty"`
	Nameservers *Nameservers  `yaml:"nameservers,omitempty"`
}

// MatchConfig matches an interface by MAC address.
type MatchConfig struct {
	MACAddress string `yaml:"macaddress"`
}

// RouteConfig is a static route.
type RouteConfig struct {
	To  string `yaml:"to"`
	Via string `yaml:"via"`
}

// Nameservers lists DNS servers.
type Nameservers struct {
	Addresses []string `yaml:"addresses"`
}

// GenerateUserData renders user-data including the "#cloud-config" header.
func GenerateUserData(in *Input) (string, error) {
	if in == nil {
		return "", fmt.Errorf("cloud-init input cannot be nil")
	}

	userData := UserData{
		Hostname: strings.SplitN(in.Hostname, ".", 2)[0],
		FQDN:     in.Hostname,
		Users: []User{{
			Name:              in.User,
			Sudo:              "ALL=(ALL) NOPASSWD:ALL",
			Shell:             "/bin/bash",
			LockPasswd:        true,
			SSHAuthorizedKeys: in.AuthorizedKeys,
		}},
		Output: &Output{All: "| tee -a /var/log/cloud-init-output.log"},
	}

	out, err := yaml.Marshal(&userData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal user-data to YAML: %w", err)
	}
	return "#cloud-config\n" + string(out), nil
}

// GenerateMetaData renders meta-data.
func GenerateMetaData(in *Input) (string, error) {
	if in == nil {
		return "", fmt.Errorf("cloud-init input cannot be nil")
	}

	out, err := yaml.Marshal(&MetaData{InstanceID: in.InstanceID, LocalHostname: in.Hostname})
	if err != nil {
		return "", fmt.Errorf("failed to marshal meta-data to YAML: %w", err)
	}
	return string(out), nil
}

// GenerateNetworkConfig renders network-config. Interfaces are named
// eth0, eth1, ... in declaration order.
func GenerateNetworkConfig(in *Input) (string, error) {
	if in == nil {
		return "", fmt.Errorf("cloud-init input cannot be nil")
	}
	if len(in.Interfaces) == 0 {
		return "", fmt.Errorf("at least one network interface is required")
	}

	cfg := NetworkConfig{
		Version:   2,
		Ethernets: make(map[string]EthernetConfig, len(in.Interfaces)),
	}
	for i, iface := range in.Interfaces {
		name := fmt.Sprintf("eth%d", i)
		eth := EthernetConfig{
			Match:     MatchConfig{MACAddress: iface.MACAddress},
			SetName:   name,
			Addresses: []string{iface.Address},
		}
		if iface.DefaultRoute && iface.Gateway != "" {
			eth.Routes = []RouteConfig{{To: "0.0.0.0/0", Via: iface.Gateway}}
		}
		if len(iface.DNSServers) > 0 {
			eth.Nameservers = &Nameservers{Addresses: iface.DNSServers}
		}
		cfg.Ethernets[name] = eth
	}

	out, err := yaml.Marshal(&cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal network-config to YAML: %w", err)
	}
	return string(out), nil
}
