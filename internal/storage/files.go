package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/baluhost/baluhost/internal/baluerr"
	"github.com/baluhost/baluhost/internal/model"
)

// FileRepository implements files.Store against PostgreSQL. Every
// operation that touches both file_metadata and quotas runs inside a
// single transaction, per §4.6's "same transaction" requirement.
type FileRepository struct {
	db *sqlx.DB
}

func NewFileRepository(db *sqlx.DB) *FileRepository {
	return &FileRepository{db: db}
}

func (r *FileRepository) GetFile(ctx context.Context, mountpointID, path string) (model.FileMetadata, error) {
	var meta model.FileMetadata
	err := r.db.GetContext(ctx, &meta, `
		SELECT path, mountpoint_id, owner_id, size_bytes, is_directory, created_at, modified_at
		FROM file_metadata WHERE mountpoint_id = $1 AND path = $2`, mountpointID, path)
	if errors.Is(err, sql.ErrNoRows) {
		return model.FileMetadata{}, baluerr.New(baluerr.KindNotFound, "storage.getFile", path)
	}
	if err != nil {
		return model.FileMetadata{}, baluerr.Wrap(baluerr.KindIO, "storage.getFile", err)
	}
	return meta, nil
}

// ListFiles returns parentPath's direct children: rows one path segment
// below it, sharing its prefix exactly.
func (r *FileRepository) ListFiles(ctx context.Context, mountpointID, parentPath string) ([]model.FileMetadata, error) {
	prefix := strings.TrimSuffix(parentPath, "/")
	rows, err := r.db.QueryxContext(ctx, `
		SELECT path, mountpoint_id, owner_id, size_bytes, is_directory, created_at, modified_at
		FROM file_metadata
		WHERE mountpoint_id = $1 AND path LIKE $2`, mountpointID, prefix+"/%")
	if err != nil {
		return nil, baluerr.Wrap(baluerr.KindIO, "storage.listFiles", err)
	}
	defer rows.Close()

	var out []model.FileMetadata
	for rows.Next() {
		var meta model.FileMetadata
		if err := rows.StructScan(&meta); err != nil {
			return nil, baluerr.Wrap(baluerr.KindIO, "storage.listFiles", err)
		}
		rest := strings.TrimPrefix(meta.Path, prefix+"/")
		if strings.Contains(rest, "/") {
			continue // a deeper descendant, not a direct child
		}
		out = append(out, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, baluerr.Wrap(baluerr.KindIO, "storage.listFiles", err)
	}
	return out, nil
}

func (r *FileRepository) UpsertFileWithQuota(ctx context.Context, meta model.FileMetadata, quotaDeltaBytes int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return baluerr.Wrap(baluerr.KindIO, "storage.upsertFileWithQuota", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO file_metadata (mountpoint_id, path, owner_id, size_bytes, is_directory, created_at, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (mountpoint_id, path) DO UPDATE SET
			size_bytes = EXCLUDED.size_bytes, modified_at = EXCLUDED.modified_at`,
		meta.MountpointID, meta.Path, meta.OwnerID, meta.SizeBytes, meta.IsDirectory, meta.CreatedAt, meta.ModifiedAt)
	if err != nil {
		return baluerr.Wrap(baluerr.KindIO, "storage.upsertFileWithQuota", err)
	}

	if err := applyQuotaDelta(ctx, tx, meta.OwnerID, quotaDeltaBytes); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return baluerr.Wrap(baluerr.KindIO, "storage.upsertFileWithQuota", err)
	}
	return nil
}

func (r *FileRepository) DeleteFileWithQuota(ctx context.Context, mountpointID, path string, quotaDeltaBytes int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return baluerr.Wrap(baluerr.KindIO, "storage.deleteFileWithQuota", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var ownerID string
	err = tx.QueryRowContext(ctx, `
		DELETE FROM file_metadata WHERE mountpoint_id = $1 AND path = $2
		RETURNING owner_id`, mountpointID, path).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return baluerr.New(baluerr.KindNotFound, "storage.deleteFileWithQuota", path)
	}
	if err != nil {
		return baluerr.Wrap(baluerr.KindIO, "storage.deleteFileWithQuota", err)
	}

	if err := applyQuotaDelta(ctx, tx, ownerID, quotaDeltaBytes); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return baluerr.Wrap(baluerr.KindIO, "storage.deleteFileWithQuota", err)
	}
	return nil
}

func (r *FileRepository) RenameFile(ctx context.Context, mountpointID, oldPath, newPath string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE file_metadata SET path = $1, modified_at = now()
		WHERE mountpoint_id = $2 AND path = $3`, newPath, mountpointID, oldPath)
	if err != nil {
		return baluerr.Wrap(baluerr.KindIO, "storage.renameFile", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return baluerr.Wrap(baluerr.KindIO, "storage.renameFile", err)
	}
	if n == 0 {
		return baluerr.New(baluerr.KindNotFound, "storage.renameFile", oldPath)
	}
	return nil
}

func (r *FileRepository) GetQuota(ctx context.Context, userID string) (model.Quota, error) {
	var q model.Quota
	err := r.db.GetContext(ctx, &q, `SELECT user_id, limit_bytes, used_bytes FROM quotas WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Quota{}, baluerr.New(baluerr.KindNotFound, "storage.getQuota", userID)
	}
	if err != nil {
		return model.Quota{}, baluerr.Wrap(baluerr.KindIO, "storage.getQuota", err)
	}
	return q, nil
}

func (r *FileRepository) UpsertMountpoint(ctx context.Context, mp model.Mountpoint) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mountpoints (id, label, root_path, kind, capacity_bytes, used_bytes, readonly)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			label = EXCLUDED.label, capacity_bytes = EXCLUDED.capacity_bytes, readonly = EXCLUDED.readonly`,
		mp.ID, mp.Label, mp.RootPath, int(mp.Kind), mp.CapacityBytes, mp.UsedBytes, mp.Readonly)
	if err != nil {
		return baluerr.Wrap(baluerr.KindIO, "storage.upsertMountpoint", err)
	}
	return nil
}

func (r *FileRepository) ListMountpoints(ctx context.Context) ([]model.Mountpoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, label, root_path, kind, capacity_bytes, used_bytes, readonly FROM mountpoints`)
	if err != nil {
		return nil, baluerr.Wrap(baluerr.KindIO, "storage.listMountpoints", err)
	}
	defer rows.Close()

	var out []model.Mountpoint
	for rows.Next() {
		var mp model.Mountpoint
		var kind int
		if err := rows.Scan(&mp.ID, &mp.Label, &mp.RootPath, &kind, &mp.CapacityBytes, &mp.UsedBytes, &mp.Readonly); err != nil {
			return nil, baluerr.Wrap(baluerr.KindIO, "storage.listMountpoints", err)
		}
		mp.Kind = model.MountpointKind(kind)
		out = append(out, mp)
	}
	if err := rows.Err(); err != nil {
		return nil, baluerr.Wrap(baluerr.KindIO, "storage.listMountpoints", err)
	}
	return out, nil
}

func applyQuotaDelta(ctx context.Context, tx *sqlx.Tx, userID string, delta int64) error {
	if delta == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO quotas (user_id, limit_bytes, used_bytes)
		VALUES ($1, 0, $2)
		ON CONFLICT (user_id) DO UPDATE SET used_bytes = quotas.used_bytes + $2`,
		userID, delta)
	if err != nil {
		return baluerr.Wrap(baluerr.KindIO, "storage.applyQuotaDelta", err)
	}
	return nil
}
