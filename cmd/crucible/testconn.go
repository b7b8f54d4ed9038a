package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTestConnCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "test-conn",
		Short: "Test the libvirt connection",
		Long: `Connect to the hypervisor of the selected provider and display version
information.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Testing libvirt connection...")

			client, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer closeClient(client)

			fmt.Println("✓ Connected to libvirt daemon")

			if err := client.Ping(); err != nil {
				return fmt.Errorf("connection test failed: %w", err)
			}

			version, err := client.Version()
			if err != nil {
				return err
			}
			fmt.Printf("✓ Libvirt version: %s\n", version)

			hostname, err := client.Libvirt().ConnectGetHostname()
			if err != nil {
				return fmt.Errorf("failed to get hostname: %w", err)
			}
			fmt.Printf("✓ Hypervisor hostname: %s\n", hostname)

			uri, err := client.Libvirt().ConnectGetUri()
			if err != nil {
				return fmt.Errorf("failed to get connection URI: %w", err)
			}
			fmt.Printf("✓ Connection URI: %s\n", uri)
			fmt.Printf("✓ Provider: %s (%s domains)\n", client.Profile().Provider, client.Profile().DomainType)

			fmt.Println("\nConnection test successful!")
			return nil
		},
	}
}
