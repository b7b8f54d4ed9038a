package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/digitalocean/go-libvirt"
)

func TestManager_EnsurePool(t *testing.T) {
	tests := []struct {
		name     string
		poolName string
		setup    func(*Manager)
	}{
		{
			name:     "create new pool",
			poolName: "test-pool",
			setup:    func(*Manager) {},
		},
		{
			name:     "pool already exists",
			poolName: "existing-pool",
			setup: func(mgr *Manager) {
				_ = mgr.CreatePool(context.Background(), "existing-pool", PoolTypeDir, "/var/lib/libvirt/images/existing")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, mgr := newTestManager(t)
			tt.setup(mgr)

			if err := mgr.EnsurePool(context.Background(), tt.poolName, PoolTypeDir, "/var/lib/libvirt/images/test"); err != nil {
				t.Fatalf("EnsurePool() error = %v", err)
			}
			if _, err := client.StoragePoolLookupByName(tt.poolName); err != nil {
				t.Errorf("Pool %s not found after EnsurePool()", tt.poolName)
			}
		})
	}
}

func TestManager_CreatePool(t *testing.T) {
	tests := []struct {
		name     string
		poolType PoolType
		setup    func(*Manager)
		wantErr  bool
	}{
		{name: "dir pool", poolType: PoolTypeDir, setup: func(*Manager) {}},
		{name: "unsupported type", poolType: "logical", setup: func(*Manager) {}, wantErr: true},
		{
			name:     "duplicate pool",
			poolType: PoolTypeDir,
			setup: func(mgr *Manager) {
				_ = mgr.CreatePool(context.Background(), "test-pool", PoolTypeDir, "/tmp/a")
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, mgr := newTestManager(t)
			tt.setup(mgr)

			err := mgr.CreatePool(context.Background(), "test-pool", tt.poolType, "/var/lib/libvirt/images/test")
			if (err != nil) != tt.wantErr {
				t.Fatalf("CreatePool() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			pool := client.pools["test-pool"]
			if pool.state != libvirt.StoragePoolRunning {
				t.Errorf("pool state = %v, want running", pool.state)
			}
			if !strings.Contains(pool.xmlDesc, "<owner>"+mgr.owner+"</owner>") {
				t.Errorf("pool XML missing owner %s: %s", mgr.owner, pool.xmlDesc)
			}
		})
	}
}

func TestManager_ListPools(t *testing.T) {
	_, mgr := newTestManager(t)
	ctx := context.Background()

	if err := mgr.EnsureDefaultPools(ctx); err != nil {
		t.Fatalf("EnsureDefaultPools() error = %v", err)
	}

	pools, err := mgr.ListPools(ctx)
	if err != nil {
		t.Fatalf("ListPools() error = %v", err)
	}
	if len(pools) != 2 {
		t.Errorf("ListPools() returned %d pools, want 2", len(pools))
	}
}

func TestManager_GetPoolInfo(t *testing.T) {
	_, mgr := newTestManager(t)
	ctx := context.Background()

	if err := mgr.CreatePool(ctx, "test-pool", PoolTypeDir, "/var/lib/libvirt/images/test"); err != nil {
		t.Fatal(err)
	}

	info, err := mgr.GetPoolInfo(ctx, "test-pool")
	if err != nil {
		t.Fatalf("GetPoolInfo() error = %v", err)
	}
	if info.Name != "test-pool" {
		t.Errorf("Name = %s, want test-pool", info.Name)
	}
	if info.Type != PoolTypeDir {
		t.Errorf("Type = %s, want dir", info.Type)
	}
	if info.Path != "/var/lib/libvirt/images/test" {
		t.Errorf("Path = %s", info.Path)
	}
	if info.State != "running" {
		t.Errorf("State = %s, want running", info.State)
	}
	if len(info.UUID) != 36 {
		t.Errorf("UUID = %q, want canonical form", info.UUID)
	}

	if _, err := mgr.GetPoolInfo(ctx, "missing"); err == nil {
		t.Error("expected error for missing pool")
	}
}

func TestManager_RefreshPool(t *testing.T) {
	_, mgr := newTestManager(t)
	ctx := context.Background()

	if err := mgr.RefreshPool(ctx, "missing"); err == nil {
		t.Error("expected error for missing pool")
	}

	_ = mgr.CreatePool(ctx, "test-pool", PoolTypeDir, "/tmp/test")
	if err := mgr.RefreshPool(ctx, "test-pool"); err != nil {
		t.Errorf("RefreshPool() error = %v", err)
	}
}

func TestManager_EnsureDefaultPools(t *testing.T) {
	client, mgr := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := mgr.EnsureDefaultPools(ctx); err != nil {
			t.Fatalf("EnsureDefaultPools() call %d error = %v", i+1, err)
		}
	}

	for _, name := range []string{DefaultImagesPool, DefaultVMsPool} {
		if _, ok := client.pools[name]; !ok {
			t.Errorf("pool %s not created", name)
		}
	}
	if !strings.Contains(client.pools[DefaultVMsPool].xmlDesc, DefaultVMsPath) {
		t.Errorf("VMs pool XML does not use %s", DefaultVMsPath)
	}
}

func TestPoolStateString(t *testing.T) {
	if got := poolStateString(libvirt.StoragePoolDegraded); got != "degraded" {
		t.Errorf("poolStateString(degraded) = %s", got)
	}
	if got := poolStateString(libvirt.StoragePoolState(42)); got != "unknown" {
		t.Errorf("poolStateString(42) = %s", got)
	}
}
