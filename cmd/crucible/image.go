package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jbweber/crucible/internal/storage"
)

func newImageCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Manage base images",
		Long: `Manage base OS images in the crucible-images storage pool.

Machines boot from a copy-on-write overlay of a base image, so an image must
be imported before a Cruciblefile can reference it.`,
	}
	cmd.AddCommand(newImageImportCmd(opts))
	cmd.AddCommand(newImageListCmd(opts))
	cmd.AddCommand(newImageDeleteCmd(opts))
	return cmd
}

// withStorage connects, ensures the default pools and hands a storage
// manager to fn.
func (o *globalOptions) withStorage(ctx context.Context, fn func(*storage.Manager) error) error {
	client, err := o.connect(ctx)
	if err != nil {
		return err
	}
	defer closeClient(client)

	mgr := storage.NewManager(client.Libvirt(), o.logger)
	if err := mgr.EnsureDefaultPools(ctx); err != nil {
		return fmt.Errorf("failed to ensure default pools: %w", err)
	}
	return fn(mgr)
}

func newImageImportCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <source-path> [name]",
		Short: "Import an image into the crucible-images pool",
		Long: `Import a qcow2 or raw base image from a local file. The format is read
from the file contents and the stored name gets the matching extension.
Without a name the file name is used.

Example:
  crucible image import /path/to/fedora-43.qcow2 fedora-43`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			name := ""
			if len(args) == 2 {
				name = args[1]
			}
			fmt.Printf("Importing image from %s...\n", args[0])

			return opts.withStorage(ctx, func(mgr *storage.Manager) error {
				stored, err := mgr.ImportImage(ctx, args[0], name)
				if err != nil {
					return fmt.Errorf("failed to import image: %w", err)
				}
				fmt.Printf("✓ Image %s imported successfully\n", stored)
				return nil
			})
		},
	}
}

func newImageListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List images in the crucible-images pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStorage(cmd.Context(), func(mgr *storage.Manager) error {
				images, err := mgr.ListImages(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to list images: %w", err)
				}
				if len(images) == 0 {
					fmt.Printf("No images found in %s pool\n", storage.DefaultImagesPool)
					return nil
				}

				fmt.Printf("%-40s %10s %10s  %s\n", "NAME", "SIZE", "ALLOCATED", "PATH")
				fmt.Println(strings.Repeat("-", 100))
				for _, img := range images {
					fmt.Printf("%-40s %8.1fGB %8.1fGB  %s\n",
						img.Name,
						img.CapacityGB(),
						img.AllocationGB(),
						img.Path,
					)
				}
				fmt.Printf("\nTotal: %d image(s)\n", len(images))
				return nil
			})
		},
	}
}

func newImageDeleteCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete an image from the crucible-images pool",
		Long: `Delete a base OS image. Machines whose boot disk is backed by the image
become unbootable.

Example:
  crucible image delete fedora-43.qcow2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return opts.withStorage(ctx, func(mgr *storage.Manager) error {
				exists, err := mgr.ImageExists(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to check if image exists: %w", err)
				}
				if !exists {
					return fmt.Errorf("image %s not found", args[0])
				}
				if err := mgr.DeleteImage(ctx, args[0]); err != nil {
					return fmt.Errorf("failed to delete image: %w", err)
				}
				fmt.Printf("✓ Image %s deleted successfully\n", args[0])
				return nil
			})
		},
	}
}
