package files

import (
	"context"
	"time"

	"github.com/baluhost/baluhost/internal/baluerr"
	"github.com/baluhost/baluhost/internal/model"
)

// List returns the recorded metadata for parentPath's direct children.
func (m *Manager) List(ctx context.Context, mountpointID, parentPath string) ([]model.FileMetadata, error) {
	mp, err := m.mountpoint(mountpointID)
	if err != nil {
		return nil, err
	}
	if _, err := sandbox(mp.RootPath, parentPath); err != nil {
		return nil, err
	}
	return m.store.ListFiles(ctx, mountpointID, parentPath)
}

// Quota returns a user's current storage ceiling and usage.
func (m *Manager) Quota(ctx context.Context, userID string) (model.Quota, error) {
	return m.store.GetQuota(ctx, userID)
}

// Stat resolves a mountpoint-relative path through the sandbox and
// returns its recorded metadata.
func (m *Manager) Stat(ctx context.Context, mountpointID, path string) (model.FileMetadata, error) {
	mp, err := m.mountpoint(mountpointID)
	if err != nil {
		return model.FileMetadata{}, err
	}
	if _, err := sandbox(mp.RootPath, path); err != nil {
		return model.FileMetadata{}, err
	}
	return m.store.GetFile(ctx, mountpointID, path)
}

// Write admits and records a write of sizeBytes by ownerID at
// mountpoint-relative path. Quota is checked before the write is
// admitted: usedBytes + delta must not exceed the user's limit. delta
// is the net change in the user's quota usage (sizeBytes for a new
// file, sizeBytes-previousSize for an overwrite) — callers that
// overwrite an existing file must pass the size difference, not the
// new file's total size.
func (m *Manager) Write(ctx context.Context, mountpointID, path, ownerID string, sizeBytes, quotaDeltaBytes int64, isDir bool) error {
	mp, err := m.mountpoint(mountpointID)
	if err != nil {
		return err
	}
	if mp.Readonly {
		return baluerr.New(baluerr.KindPermissionDenied, "files.write", "mountpoint "+mountpointID+" is read-only")
	}
	resolved, err := sandbox(mp.RootPath, path)
	if err != nil {
		return err
	}

	if quotaDeltaBytes > 0 {
		quota, err := m.store.GetQuota(ctx, ownerID)
		if err != nil {
			return err
		}
		if quota.UsedBytes+quotaDeltaBytes > quota.LimitBytes {
			return baluerr.New(baluerr.KindQuotaExceeded, "files.write",
				"write would exceed quota for user "+ownerID)
		}
	}

	now := time.Now()
	meta := model.FileMetadata{
		Path:         relativize(mp.RootPath, resolved),
		MountpointID: mountpointID,
		OwnerID:      ownerID,
		SizeBytes:    sizeBytes,
		IsDirectory:  isDir,
		CreatedAt:    now,
		ModifiedAt:   now,
	}
	return m.store.UpsertFileWithQuota(ctx, meta, quotaDeltaBytes)
}

// Delete removes a file's metadata row and credits its size back to
// the owner's quota, both in the same store-level transaction.
func (m *Manager) Delete(ctx context.Context, mountpointID, path string) error {
	mp, err := m.mountpoint(mountpointID)
	if err != nil {
		return err
	}
	if _, err := sandbox(mp.RootPath, path); err != nil {
		return err
	}

	existing, err := m.store.GetFile(ctx, mountpointID, path)
	if err != nil {
		return err
	}
	return m.store.DeleteFileWithQuota(ctx, mountpointID, path, -existing.SizeBytes)
}

// Rename moves a file within the same mountpoint. Cross-mountpoint
// moves are rejected with kCrossMount — ownership and ordering
// guarantees the store provides only hold within one mountpoint's
// transaction boundary, per §4.6.
func (m *Manager) Rename(ctx context.Context, mountpointID, oldPath, newPath string) error {
	mp, err := m.mountpoint(mountpointID)
	if err != nil {
		return err
	}
	if mp.Readonly {
		return baluerr.New(baluerr.KindPermissionDenied, "files.rename", "mountpoint "+mountpointID+" is read-only")
	}
	if _, err := sandbox(mp.RootPath, oldPath); err != nil {
		return err
	}
	if _, err := sandbox(mp.RootPath, newPath); err != nil {
		return err
	}
	return m.store.RenameFile(ctx, mountpointID, oldPath, newPath)
}

// Move relocates a file, rejecting any attempt to cross mountpoints —
// moves that change a file's root are a copy-then-delete operation at
// a higher layer, not an atomic rename, and are out of scope here.
func (m *Manager) Move(ctx context.Context, srcMountpointID, srcPath, dstMountpointID, dstPath string) error {
	if srcMountpointID != dstMountpointID {
		return baluerr.New(baluerr.KindCrossMount, "files.move", "cannot move across mountpoints")
	}
	return m.Rename(ctx, srcMountpointID, srcPath, dstPath)
}
