package libvirt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket/dialers"
)

// SystemSocket is the libvirtd socket for system URIs.
const SystemSocket = "/var/run/libvirt/libvirt-sock"

// ErrUnknownProvider is returned by ProfileFor for unsupported providers.
var ErrUnknownProvider = errors.New("unknown provider")

// Profile is how a provider name maps onto libvirt.
type Profile struct {
	Provider string
	// URI is the hypervisor connection URI.
	URI string
	// DomainType is the <domain type=...> attribute.
	DomainType string
	// Socket is the libvirtd socket the URI is reached through.
	Socket string
	// Firmware is empty for hypervisors without UEFI selection.
	Firmware string
}

// ProfileFor returns the libvirt profile of provider.
func ProfileFor(provider string) (Profile, error) {
	switch provider {
	case "virtualbox", "vbox":
		return Profile{Provider: provider, URI: "vbox:///session", DomainType: "vbox", Socket: sessionSocket()}, nil
	case "kvm", "qemu", "libvirt":
		return Profile{Provider: provider, URI: "qemu:///system", DomainType: "kvm", Socket: SystemSocket, Firmware: "efi"}, nil
	case "qemu-session":
		return Profile{Provider: provider, URI: "qemu:///session", DomainType: "kvm", Socket: sessionSocket(), Firmware: "efi"}, nil
	case "test":
		return Profile{Provider: provider, URI: "test:///default", DomainType: "test", Socket: SystemSocket}, nil
	default:
		return Profile{}, fmt.Errorf("%w: %q (supported: virtualbox, kvm, qemu, libvirt, qemu-session, test)", ErrUnknownProvider, provider)
	}
}

// sessionSocket is the per-user libvirtd socket.
func sessionSocket() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "libvirt", "libvirt-sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("libvirt-%d", os.Getuid()), "libvirt-sock")
}

// Client wraps a go-libvirt connection opened for one profile.
type Client struct {
	libvirt *libvirt.Libvirt
	profile Profile
}

// Connect opens the profile's URI through its local socket.
// If timeout is zero, defaults to 5 seconds.
func Connect(profile Profile, timeout time.Duration) (*Client, error) {
	socket := profile.Socket
	if socket == "" {
		socket = SystemSocket
	}
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	dialer := dialers.NewLocal(
		dialers.WithSocket(socket),
		dialers.WithLocalTimeout(timeout),
	)

	l := libvirt.NewWithDialer(dialer)
	if err := l.ConnectToURI(libvirt.ConnectURI(profile.URI)); err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt %s at %s: %w", profile.URI, socket, err)
	}

	return &Client{libvirt: l, profile: profile}, nil
}

// ConnectWithContext is Connect bounded by ctx.
func ConnectWithContext(ctx context.Context, profile Profile, timeout time.Duration) (*Client, error) {
	type result struct {
		client *Client
		err    error
	}
	resultCh := make(chan result, 1)

	go func() {
		c, err := Connect(profile, timeout)
		resultCh <- result{client: c, err: err}
	}()

	select {
	case <-ctx.Done():
		// Close a connection that completes after cancellation.
		go func() {
			if res := <-resultCh; res.client != nil {
				_ = res.client.Close()
			}
		}()
		return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
	case res := <-resultCh:
		return res.client, res.err
	}
}

// Close closes the connection. It is safe to call Close multiple times.
func (c *Client) Close() error {
	if c == nil || c.libvirt == nil {
		return nil
	}
	l := c.libvirt
	c.libvirt = nil
	if err := l.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect from libvirt: %w", err)
	}
	return nil
}

// Libvirt returns the underlying go-libvirt client.
func (c *Client) Libvirt() *libvirt.Libvirt {
	return c.libvirt
}

// Profile returns the profile the client was opened with.
func (c *Client) Profile() Profile {
	return c.profile
}

// Ping verifies the connection is still alive.
func (c *Client) Ping() error {
	if c.libvirt == nil {
		return fmt.Errorf("client not connected")
	}
	if _, err := c.libvirt.ConnectGetLibVersion(); err != nil {
		return fmt.Errorf("libvirt connection is dead: %w", err)
	}
	return nil
}

// Version returns the libvirt library version as major.minor.release.
func (c *Client) Version() (string, error) {
	if c.libvirt == nil {
		return "", fmt.Errorf("client not connected")
	}
	v, err := c.libvirt.ConnectGetLibVersion()
	if err != nil {
		return "", fmt.Errorf("failed to get libvirt version: %w", err)
	}
	return FormatVersion(v), nil
}

// FormatVersion renders libvirt's packed version number.
// Example: 10001000 → 10.1.0
func FormatVersion(v uint64) string {
	return fmt.Sprintf("%d.%d.%d", v/1000000, (v/1000)%1000, v%1000)
}
