// Package files implements the File Metadata & Quota layer (C10): a
// path sandbox over every mountpoint, a mountpoint list derived from
// the RAID controller plus plain disks and virtual locations, quota
// admission checked before every write, and rename/move semantics that
// forbid crossing mountpoints.
package files

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/baluhost/baluhost/internal/baluerr"
	"github.com/baluhost/baluhost/internal/model"
)

// Store is the persistence surface this package needs, kept narrow so
// it never imports internal/storage directly.
type Store interface {
	GetFile(ctx context.Context, mountpointID, path string) (model.FileMetadata, error)
	// ListFiles returns the direct children of parentPath, in the
	// collaborator interface's list().
	ListFiles(ctx context.Context, mountpointID, parentPath string) ([]model.FileMetadata, error)
	UpsertFileWithQuota(ctx context.Context, meta model.FileMetadata, quotaDeltaBytes int64) error
	DeleteFileWithQuota(ctx context.Context, mountpointID, path string, quotaDeltaBytes int64) error
	RenameFile(ctx context.Context, mountpointID, oldPath, newPath string) error
	GetQuota(ctx context.Context, userID string) (model.Quota, error)
	UpsertMountpoint(ctx context.Context, mp model.Mountpoint) error
	ListMountpoints(ctx context.Context) ([]model.Mountpoint, error)
}

// RaidLister is the subset of the RAID controller the mountpoint list
// needs, kept narrow to avoid an import cycle with internal/raid.
type RaidLister interface {
	List() []model.RaidArray
}

const usageCacheTTL = 30 * time.Second

type usageEntry struct {
	bytes     int64
	computed  time.Time
}

// Manager is the file layer's entry point: one instance per process,
// shared by every caller of the collaborator interface's file commands.
type Manager struct {
	store Store
	raid  RaidLister

	mu          sync.RWMutex
	mountpoints map[string]model.Mountpoint // id -> mountpoint, RootPath canonicalized

	usageGroup singleflight.Group
	usageMu    sync.Mutex
	usageCache map[string]usageEntry

	walk func(root string) (int64, error)
}

// Config wires a Manager's dependencies. Extra is a fixed set of
// plain-disk/virtual mountpoints the RAID controller doesn't know
// about (e.g. the boot disk, a tmpfs scratch area).
type Config struct {
	Store Store
	Raid  RaidLister
	Extra []model.Mountpoint
}

func New(cfg Config) *Manager {
	m := &Manager{
		store:       cfg.Store,
		raid:        cfg.Raid,
		mountpoints: make(map[string]model.Mountpoint),
		usageCache:  make(map[string]usageEntry),
		walk:        diskUsage,
	}
	for _, mp := range cfg.Extra {
		m.mountpoints[mp.ID] = mp
	}
	return m
}

// RefreshMountpoints re-derives the mountpoint list from the RAID
// controller's current arrays, leaving the fixed Extra entries alone.
// Arrays that no longer exist are removed (cascading mountpoint removal
// per §4.8's deleteArray note).
func (m *Manager) RefreshMountpoints(ctx context.Context) error {
	arrays := m.raid.List()

	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(arrays))
	for _, a := range arrays {
		id := "raid:" + a.Name
		seen[id] = true
		existing, ok := m.mountpoints[id]
		mp := model.Mountpoint{
			ID:            id,
			Label:         a.Name,
			RootPath:      "/mnt/" + a.Name,
			Kind:          model.MountpointRaidArray,
			CapacityBytes: a.SizeBytes,
			Readonly:      a.Status == model.StatusFailed,
		}
		if ok {
			mp.RootPath = existing.RootPath
			mp.UsedBytes = existing.UsedBytes
		}
		m.mountpoints[id] = mp
		if m.store != nil {
			if err := m.store.UpsertMountpoint(ctx, mp); err != nil {
				return err
			}
		}
	}
	for id, mp := range m.mountpoints {
		if mp.Kind == model.MountpointRaidArray && !seen[id] {
			delete(m.mountpoints, id)
		}
	}
	return nil
}

// ListMountpoints returns every known mountpoint with UsedBytes
// refreshed from the 30s usage cache.
func (m *Manager) ListMountpoints(ctx context.Context) ([]model.Mountpoint, error) {
	m.mu.RLock()
	out := make([]model.Mountpoint, 0, len(m.mountpoints))
	for _, mp := range m.mountpoints {
		out = append(out, mp)
	}
	m.mu.RUnlock()

	for i := range out {
		used, err := m.usage(ctx, out[i].ID, out[i].RootPath)
		if err != nil {
			return nil, err
		}
		out[i].UsedBytes = used
	}
	return out, nil
}

// usage returns a mountpoint's recursive disk usage, recomputing at
// most once per usageCacheTTL and collapsing concurrent recomputes for
// the same mountpoint into a single walk via singleflight, per §4.6.
func (m *Manager) usage(ctx context.Context, mountpointID, root string) (int64, error) {
	m.usageMu.Lock()
	entry, ok := m.usageCache[mountpointID]
	m.usageMu.Unlock()
	if ok && time.Since(entry.computed) < usageCacheTTL {
		return entry.bytes, nil
	}

	v, err, _ := m.usageGroup.Do(mountpointID, func() (interface{}, error) {
		n, walkErr := m.walk(root)
		if walkErr != nil {
			return int64(0), walkErr
		}
		m.usageMu.Lock()
		m.usageCache[mountpointID] = usageEntry{bytes: n, computed: time.Now()}
		m.usageMu.Unlock()
		return n, nil
	})
	if err != nil {
		return 0, baluerr.Wrap(baluerr.KindIO, "files.usage", err)
	}
	return v.(int64), nil
}

func diskUsage(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, statErr := d.Info()
		if statErr != nil {
			return statErr
		}
		total += info.Size()
		return nil
	})
	return total, err
}

func (m *Manager) mountpoint(id string) (model.Mountpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mp, ok := m.mountpoints[id]
	if !ok {
		return model.Mountpoint{}, baluerr.New(baluerr.KindNotFound, "files.mountpoint", "mountpoint "+id)
	}
	return mp, nil
}
