// Package naming derives libvirt resource names from an environment.
//
// Domains are named after the environment, the machine and the directory the
// descriptor lives in, so two workspaces booting the same Cruciblefile never
// collide. Every volume a machine owns starts with its domain name.
package naming

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
)

// DirHash returns the first 8 hex digits of the SHA-256 of dir.
func DirHash(dir string) string {
	sum := sha256.Sum256([]byte(dir))
	return hex.EncodeToString(sum[:])[:8]
}

// DomainName returns the libvirt domain name for machine.
//
// Example: ("ci", "/ws/job-1", "web") → ci-web-1a2b3c4d
func DomainName(env, dir, machine string) string {
	return fmt.Sprintf("%s-%s-%s", env, machine, DirHash(dir))
}

// VolumePrefix is the prefix shared by every volume of a domain.
func VolumePrefix(domain string) string {
	return domain + "_"
}

// VolumeNameBoot returns the boot disk volume name.
// Format: {domain}_boot.qcow2
func VolumeNameBoot(domain string) string {
	return fmt.Sprintf("%s_boot.qcow2", domain)
}

// VolumeNameData returns a data disk volume name.
// Format: {domain}_data-{device}.qcow2
func VolumeNameData(domain, device string) string {
	return fmt.Sprintf("%s_data-%s.qcow2", domain, device)
}

// VolumeNameCloudInit returns the cloud-init seed volume name.
// Format: {domain}_cloudinit.iso
func VolumeNameCloudInit(domain string) string {
	return fmt.Sprintf("%s_cloudinit.iso", domain)
}

// MACFromIP calculates a deterministic MAC address from an IPv4 address,
// with or without a prefix length. Uses the locally administered prefix be:ef.
//
// Example: IP 10.55.22.22 → MAC be:ef:0a:37:16:16
func MACFromIP(ip string) (string, error) {
	v4, err := parseIPv4(ip)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("be:ef:%02x:%02x:%02x:%02x", v4[0], v4[1], v4[2], v4[3]), nil
}

// InterfaceNameFromIP calculates a deterministic tap interface name.
// Format: vm{hex_octets}, well within the 15 character limit.
//
// Example: IP 10.55.22.22 → vm0a371616
func InterfaceNameFromIP(ip string) (string, error) {
	v4, err := parseIPv4(ip)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("vm%02x%02x%02x%02x", v4[0], v4[1], v4[2], v4[3]), nil
}

func parseIPv4(ip string) (net.IP, error) {
	ipStr := ip
	if strings.Contains(ip, "/") {
		addr, _, err := net.ParseCIDR(ip)
		if err != nil {
			return nil, fmt.Errorf("invalid IP/CIDR: %w", err)
		}
		ipStr = addr.String()
	}

	parsed := net.ParseIP(ipStr)
	if parsed == nil {
		return nil, fmt.Errorf("invalid IP address: %s", ipStr)
	}
	v4 := parsed.To4()
	if v4 == nil {
		return nil, fmt.Errorf("not an IPv4 address: %s", ipStr)
	}
	return v4, nil
}
