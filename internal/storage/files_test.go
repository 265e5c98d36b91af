package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/baluhost/baluhost/internal/baluerr"
	"github.com/baluhost/baluhost/internal/model"
)

func newMockFileRepo(t *testing.T) (*FileRepository, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	db := sqlx.NewDb(mockDB, "pgx")
	return NewFileRepository(db), mock
}

func TestGetFileReturnsDecodedRow(t *testing.T) {
	repo, mock := newMockFileRepo(t)
	now := time.Now()
	mock.ExpectQuery(`SELECT .* FROM file_metadata`).
		WithArgs("raid:md0", "a.txt").
		WillReturnRows(sqlmock.NewRows([]string{"path", "mountpoint_id", "owner_id", "size_bytes", "is_directory", "created_at", "modified_at"}).
			AddRow("a.txt", "raid:md0", "user1", int64(100), false, now, now))

	meta, err := repo.GetFile(context.Background(), "raid:md0", "a.txt")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if meta.SizeBytes != 100 || meta.OwnerID != "user1" {
		t.Errorf("got %+v", meta)
	}
}

func TestGetFileNotFoundMapsToKindNotFound(t *testing.T) {
	repo, mock := newMockFileRepo(t)
	mock.ExpectQuery(`SELECT .* FROM file_metadata`).
		WithArgs("raid:md0", "missing.txt").
		WillReturnRows(sqlmock.NewRows([]string{"path", "mountpoint_id", "owner_id", "size_bytes", "is_directory", "created_at", "modified_at"}))

	_, err := repo.GetFile(context.Background(), "raid:md0", "missing.txt")
	if baluerr.KindOf(err) != baluerr.KindNotFound {
		t.Fatalf("expected kNotFound, got %v", err)
	}
}

func TestListFilesFiltersToDirectChildren(t *testing.T) {
	repo, mock := newMockFileRepo(t)
	now := time.Now()
	mock.ExpectQuery(`SELECT .* FROM file_metadata`).
		WithArgs("raid:md0", "dir/%").
		WillReturnRows(sqlmock.NewRows([]string{"path", "mountpoint_id", "owner_id", "size_bytes", "is_directory", "created_at", "modified_at"}).
			AddRow("dir/a.txt", "raid:md0", "user1", int64(10), false, now, now).
			AddRow("dir/sub/b.txt", "raid:md0", "user1", int64(20), false, now, now))

	out, err := repo.ListFiles(context.Background(), "raid:md0", "dir")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(out) != 1 || out[0].Path != "dir/a.txt" {
		t.Fatalf("got %+v, want only dir/a.txt", out)
	}
}

func TestUpsertFileWithQuotaAppliesDeltaInSameTransaction(t *testing.T) {
	repo, mock := newMockFileRepo(t)
	meta := model.FileMetadata{Path: "a.txt", MountpointID: "raid:md0", OwnerID: "user1", SizeBytes: 100}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO file_metadata`).
		WithArgs(meta.MountpointID, meta.Path, meta.OwnerID, meta.SizeBytes, meta.IsDirectory, meta.CreatedAt, meta.ModifiedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO quotas`).
		WithArgs(meta.OwnerID, int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.UpsertFileWithQuota(context.Background(), meta, 100); err != nil {
		t.Fatalf("UpsertFileWithQuota: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDeleteFileWithQuotaNotFoundRollsBack(t *testing.T) {
	repo, mock := newMockFileRepo(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`DELETE FROM file_metadata`).
		WithArgs("raid:md0", "missing.txt").
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}))
	mock.ExpectRollback()

	err := repo.DeleteFileWithQuota(context.Background(), "raid:md0", "missing.txt", -10)
	if err == nil {
		t.Fatal("expected error from a failed delete")
	}
	if baluerr.KindOf(err) != baluerr.KindNotFound {
		t.Errorf("expected kNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRenameFileNotFoundMapsToKindNotFound(t *testing.T) {
	repo, mock := newMockFileRepo(t)
	mock.ExpectExec(`UPDATE file_metadata`).
		WithArgs("new.txt", "raid:md0", "old.txt").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.RenameFile(context.Background(), "raid:md0", "old.txt", "new.txt")
	if baluerr.KindOf(err) != baluerr.KindNotFound {
		t.Fatalf("expected kNotFound, got %v", err)
	}
}

func TestGetQuotaReturnsDecodedRow(t *testing.T) {
	repo, mock := newMockFileRepo(t)
	mock.ExpectQuery(`SELECT .* FROM quotas`).
		WithArgs("user1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "limit_bytes", "used_bytes"}).
			AddRow("user1", int64(1000), int64(250)))

	q, err := repo.GetQuota(context.Background(), "user1")
	if err != nil {
		t.Fatalf("GetQuota: %v", err)
	}
	if q.LimitBytes != 1000 || q.UsedBytes != 250 {
		t.Errorf("got %+v", q)
	}
}

func TestListMountpointsReturnsDecodedRows(t *testing.T) {
	repo, mock := newMockFileRepo(t)
	mock.ExpectQuery(`SELECT .* FROM mountpoints`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "label", "root_path", "kind", "capacity_bytes", "used_bytes", "readonly"}).
			AddRow("raid:md0", "md0", "/mnt/md0", int(model.MountpointRaidArray), int64(1<<40), int64(1<<30), false))

	out, err := repo.ListMountpoints(context.Background())
	if err != nil {
		t.Fatalf("ListMountpoints: %v", err)
	}
	if len(out) != 1 || out[0].ID != "raid:md0" {
		t.Fatalf("got %+v", out)
	}
}
