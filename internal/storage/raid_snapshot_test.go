package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/baluhost/baluhost/internal/model"
)

func newMockRaidSnapshotRepo(t *testing.T) (*RaidSnapshotRepository, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	db := sqlx.NewDb(mockDB, "pgx")
	return NewRaidSnapshotRepository(db), mock
}

func TestRecordSnapshotMarshalsDeviceLists(t *testing.T) {
	repo, mock := newMockRaidSnapshotRepo(t)
	devicesJSON, _ := json.Marshal([]string{"sda1", "sdb1"})
	sparesJSON, _ := json.Marshal([]string{"sdc1"})

	mock.ExpectExec(`INSERT INTO raid_config_snapshot`).
		WithArgs("md0", int(model.RaidLevel1), devicesJSON, sparesJSON, 512).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.RecordSnapshot(context.Background(), "md0", model.RaidLevel1, []string{"sda1", "sdb1"}, []string{"sdc1"}, 512)
	if err != nil {
		t.Fatalf("RecordSnapshot: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestHistoryReturnsDecodedSnapshots(t *testing.T) {
	repo, mock := newMockRaidSnapshotRepo(t)
	devicesJSON, _ := json.Marshal([]string{"sda1", "sdb1"})
	sparesJSON, _ := json.Marshal([]string{})
	now := time.Now()

	mock.ExpectQuery(`SELECT .* FROM raid_config_snapshot`).
		WithArgs("md0", 20).
		WillReturnRows(sqlmock.NewRows([]string{"array_name", "level", "devices", "spares", "chunk_kb", "recorded_at"}).
			AddRow("md0", int(model.RaidLevel1), devicesJSON, sparesJSON, 512, now))

	snaps, err := repo.History(context.Background(), "md0", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(snaps) != 1 || len(snaps[0].Devices) != 2 {
		t.Fatalf("got %+v", snaps)
	}
}
