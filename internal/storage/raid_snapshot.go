package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/baluhost/baluhost/internal/baluerr"
	"github.com/baluhost/baluhost/internal/model"
)

// RaidSnapshotRepository records an append-only audit trail of array
// topology changes, independent of the controller's live view so
// history survives an array being torn down and recreated under the
// same name.
type RaidSnapshotRepository struct {
	db *sqlx.DB
}

func NewRaidSnapshotRepository(db *sqlx.DB) *RaidSnapshotRepository {
	return &RaidSnapshotRepository{db: db}
}

// RecordSnapshot persists one topology event: array creation, a device
// added/removed, or deletion. devices/spares are the device names
// involved at the moment of the event, not the array's full membership.
func (r *RaidSnapshotRepository) RecordSnapshot(ctx context.Context, arrayName string, level model.RaidLevel, devices, spares []string, chunkKB int) error {
	devicesJSON, err := json.Marshal(devices)
	if err != nil {
		return baluerr.Wrap(baluerr.KindBug, "storage.recordSnapshot", err)
	}
	sparesJSON, err := json.Marshal(spares)
	if err != nil {
		return baluerr.Wrap(baluerr.KindBug, "storage.recordSnapshot", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO raid_config_snapshot (array_name, level, devices, spares, chunk_kb)
		VALUES ($1, $2, $3, $4, $5)`,
		arrayName, int(level), devicesJSON, sparesJSON, chunkKB)
	if err != nil {
		return baluerr.Wrap(baluerr.KindIO, "storage.recordSnapshot", err)
	}
	return nil
}

// History returns the most recent topology events for one array, most
// recent first.
func (r *RaidSnapshotRepository) History(ctx context.Context, arrayName string, limit int) ([]RaidSnapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT array_name, level, devices, spares, chunk_kb, recorded_at
		FROM raid_config_snapshot
		WHERE array_name = $1
		ORDER BY recorded_at DESC
		LIMIT $2`, arrayName, limit)
	if err != nil {
		return nil, baluerr.Wrap(baluerr.KindIO, "storage.raidSnapshotHistory", err)
	}
	defer rows.Close()

	var out []RaidSnapshot
	for rows.Next() {
		var (
			snap                    RaidSnapshot
			level                   int
			devicesJSON, sparesJSON []byte
		)
		if err := rows.Scan(&snap.ArrayName, &level, &devicesJSON, &sparesJSON, &snap.ChunkKB, &snap.RecordedAt); err != nil {
			return nil, baluerr.Wrap(baluerr.KindIO, "storage.raidSnapshotHistory", err)
		}
		snap.Level = model.RaidLevel(level)
		if err := json.Unmarshal(devicesJSON, &snap.Devices); err != nil {
			return nil, baluerr.Wrap(baluerr.KindBug, "storage.raidSnapshotHistory", err)
		}
		if err := json.Unmarshal(sparesJSON, &snap.Spares); err != nil {
			return nil, baluerr.Wrap(baluerr.KindBug, "storage.raidSnapshotHistory", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, baluerr.Wrap(baluerr.KindIO, "storage.raidSnapshotHistory", err)
	}
	return out, nil
}

// RaidSnapshot is one row of the topology audit trail.
type RaidSnapshot struct {
	ArrayName  string
	Level      model.RaidLevel
	Devices    []string
	Spares     []string
	ChunkKB    int
	RecordedAt time.Time
}
