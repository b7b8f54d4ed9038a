package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jbweber/crucible/internal/storage"
)

func newStorageCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Inspect storage pools",
		Long: `View the libvirt storage pools crucible machines and images live in.`,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show storage status overview",
		Long: `Display a summary of all storage pools followed by capacity, usage and
volume counts per pool. Crucible's default pools are marked with *.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := opts.connect(ctx)
			if err != nil {
				return err
			}
			defer closeClient(client)

			return printStorageStatus(ctx, os.Stdout, storage.NewManager(client.Libvirt(), opts.logger))
		},
	})
	return cmd
}

// poolLister is the part of storage.Manager the overview reads.
type poolLister interface {
	ListPools(ctx context.Context) ([]storage.PoolInfo, error)
	ListVolumes(ctx context.Context, poolName string) ([]storage.VolumeInfo, error)
}

func printStorageStatus(ctx context.Context, w io.Writer, mgr poolLister) error {
	pools, err := mgr.ListPools(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pools: %w", err)
	}
	if len(pools) == 0 {
		_, _ = fmt.Fprintln(w, "No storage pools found")
		return nil
	}

	var totalCapacity, totalAllocation, totalAvailable uint64
	var totalVolumes, running int
	volumeCounts := make([]int, len(pools))
	for i, pool := range pools {
		totalCapacity += pool.Capacity
		totalAllocation += pool.Allocation
		totalAvailable += pool.Available
		if pool.State == "running" {
			running++
		}
		// Inactive pools cannot list volumes.
		if volumes, err := mgr.ListVolumes(ctx, pool.Name); err == nil {
			volumeCounts[i] = len(volumes)
			totalVolumes += len(volumes)
		}
	}

	_, _ = fmt.Fprintln(w, "Storage Overview")
	_, _ = fmt.Fprintln(w, strings.Repeat("=", 88))
	_, _ = fmt.Fprintf(w, "Pools:      %d total (%d running, %d inactive)\n", len(pools), running, len(pools)-running)
	_, _ = fmt.Fprintf(w, "Volumes:    %d total\n", totalVolumes)
	_, _ = fmt.Fprintf(w, "Capacity:   %.2f GB\n", gigabytes(totalCapacity))
	_, _ = fmt.Fprintf(w, "Allocated:  %.2f GB\n", gigabytes(totalAllocation))
	_, _ = fmt.Fprintf(w, "Available:  %.2f GB\n", gigabytes(totalAvailable))
	_, _ = fmt.Fprintf(w, "Usage:      %.1f%%\n", usage(totalAllocation, totalCapacity))

	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Pool Details")
	_, _ = fmt.Fprintln(w, strings.Repeat("=", 88))
	_, _ = fmt.Fprintf(w, "%-20s %-10s %8s %12s %12s %12s %8s\n",
		"NAME", "STATE", "VOLUMES", "CAPACITY", "ALLOCATED", "AVAILABLE", "USAGE")
	_, _ = fmt.Fprintln(w, strings.Repeat("-", 88))

	for i, pool := range pools {
		name := pool.Name
		if pool.Name == storage.DefaultImagesPool || pool.Name == storage.DefaultVMsPool {
			name += " *"
		}
		indicator := "○"
		if pool.State == "running" {
			indicator = "●"
		}
		_, _ = fmt.Fprintf(w, "%-20s %-10s %8d %10.1fGB %10.1fGB %10.1fGB %7.1f%%\n",
			name,
			indicator+" "+pool.State,
			volumeCounts[i],
			pool.CapacityGB(),
			pool.AllocationGB(),
			pool.AvailableGB(),
			usage(pool.Allocation, pool.Capacity),
		)
	}

	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "● running  ○ inactive  * default pool")
	return nil
}

func gigabytes(b uint64) float64 {
	return float64(b) / (1024 * 1024 * 1024)
}

func usage(allocation, capacity uint64) float64 {
	if capacity == 0 {
		return 0
	}
	return float64(allocation) / float64(capacity) * 100
}
