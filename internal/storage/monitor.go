package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/baluhost/baluhost/internal/baluerr"
	"github.com/baluhost/baluhost/internal/model"
)

// SampleRepository implements monitor.Writer and monitor.HistoryReader
// against PostgreSQL. Each table is keyed so DeleteOlderThan (the
// retention sweep) is a single indexed range delete.
type SampleRepository struct {
	db *sqlx.DB
}

func NewSampleRepository(db *sqlx.DB) *SampleRepository {
	return &SampleRepository{db: db}
}

func (s *SampleRepository) WriteCPUSample(ctx context.Context, sample model.CpuSample) error {
	perThread, err := json.Marshal(sample.PerThread)
	if err != nil {
		return baluerr.Wrap(baluerr.KindBug, "storage.writeCPUSample", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cpu_samples (t_millis, total_pct, per_thread, freq_mhz, temp_c)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (t_millis) DO NOTHING`,
		sample.TMillis, sample.TotalPct, perThread, sample.FreqMHz, sample.TempC)
	if err != nil {
		return baluerr.Wrap(baluerr.KindIO, "storage.writeCPUSample", err)
	}
	return nil
}

func (s *SampleRepository) WriteMemorySample(ctx context.Context, sample model.MemorySample) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_samples (t_millis, total_bytes, used_bytes, cached_bytes, swap_bytes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (t_millis) DO NOTHING`,
		sample.TMillis, sample.TotalBytes, sample.UsedBytes, sample.CachedBytes, sample.SwapBytes)
	if err != nil {
		return baluerr.Wrap(baluerr.KindIO, "storage.writeMemorySample", err)
	}
	return nil
}

func (s *SampleRepository) WriteNetworkSample(ctx context.Context, sample model.NetworkSample) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO network_samples (t_millis, rx_bytes_per_sec, tx_bytes_per_sec, rx_pkts_per_sec, tx_pkts_per_sec, rx_errors, tx_errors)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (t_millis) DO NOTHING`,
		sample.TMillis, sample.RxBytesPerSec, sample.TxBytesPerSec, sample.RxPktsPerSec, sample.TxPktsPerSec, sample.RxErrors, sample.TxErrors)
	if err != nil {
		return baluerr.Wrap(baluerr.KindIO, "storage.writeNetworkSample", err)
	}
	return nil
}

func (s *SampleRepository) WriteDiskSample(ctx context.Context, sample model.DiskSample) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO disk_io_samples (device_name, t_millis, read_bytes, write_bytes, read_ops, write_ops)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (device_name, t_millis) DO NOTHING`,
		sample.DeviceName, sample.TMillis, sample.ReadBytes, sample.WriteBytes, sample.ReadOps, sample.WriteOps)
	if err != nil {
		return baluerr.Wrap(baluerr.KindIO, "storage.writeDiskSample", err)
	}
	return nil
}

func (s *SampleRepository) WriteSmartRecord(ctx context.Context, r model.SmartRecord) error {
	attrs, err := json.Marshal(r.Attributes)
	if err != nil {
		return baluerr.Wrap(baluerr.KindBug, "storage.writeSmartRecord", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO smart_records (device_name, t_millis, health, temp_c, power_on_hours, reallocated_sectors, pending_sectors, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (device_name, t_millis) DO NOTHING`,
		r.DeviceName, r.TMillis, int(r.Health), r.TempC, r.PowerOnHours, r.ReallocatedSectors, r.PendingSectors, attrs)
	if err != nil {
		return baluerr.Wrap(baluerr.KindIO, "storage.writeSmartRecord", err)
	}
	return nil
}

func (s *SampleRepository) WriteProcessSample(ctx context.Context, sample model.ProcessSample) error {
	entries, err := json.Marshal(sample.Entries)
	if err != nil {
		return baluerr.Wrap(baluerr.KindBug, "storage.writeProcessSample", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO process_samples (t_millis, entries)
		VALUES ($1, $2)
		ON CONFLICT (t_millis) DO NOTHING`, sample.TMillis, entries)
	if err != nil {
		return baluerr.Wrap(baluerr.KindIO, "storage.writeProcessSample", err)
	}
	return nil
}

// retentionTables lists the table names monitor.DefaultRetentionPolicy
// hands back that DeleteOlderThan accepts; every one is cut by t_millis
// (disk and smart rows are additionally keyed by device_name).
var retentionTables = map[string]bool{
	"cpu_samples": true, "memory_samples": true, "network_samples": true,
	"disk_io_samples": true, "process_samples": true, "smart_records": true,
}

func (s *SampleRepository) DeleteOlderThan(ctx context.Context, table string, cutoff time.Time) error {
	if !retentionTables[table] {
		return baluerr.New(baluerr.KindInvalidArg, "storage.deleteOlderThan", "unknown retention table "+table)
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE t_millis < $1`, table)
	if _, err := s.db.ExecContext(ctx, query, cutoff.UnixMilli()); err != nil {
		return baluerr.Wrap(baluerr.KindIO, "storage.deleteOlderThan", err)
	}
	return nil
}

func (s *SampleRepository) HistoryCPU(ctx context.Context, from, to time.Time) ([]model.CpuSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t_millis, total_pct, per_thread, freq_mhz, temp_c
		FROM cpu_samples
		WHERE t_millis >= $1 AND t_millis <= $2
		ORDER BY t_millis ASC`, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, baluerr.Wrap(baluerr.KindIO, "storage.historyCPU", err)
	}
	defer rows.Close()

	var out []model.CpuSample
	for rows.Next() {
		var sample model.CpuSample
		var perThreadRaw []byte
		if err := rows.Scan(&sample.TMillis, &sample.TotalPct, &perThreadRaw, &sample.FreqMHz, &sample.TempC); err != nil {
			return nil, baluerr.Wrap(baluerr.KindIO, "storage.historyCPU", err)
		}
		if err := json.Unmarshal(perThreadRaw, &sample.PerThread); err != nil {
			return nil, baluerr.Wrap(baluerr.KindBug, "storage.historyCPU", err)
		}
		out = append(out, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, baluerr.Wrap(baluerr.KindIO, "storage.historyCPU", err)
	}
	return out, nil
}

func (s *SampleRepository) HistoryDiskIO(ctx context.Context, device string, from, to time.Time) ([]model.DiskSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_name, t_millis, read_bytes, write_bytes, read_ops, write_ops
		FROM disk_io_samples
		WHERE device_name = $1 AND t_millis >= $2 AND t_millis <= $3
		ORDER BY t_millis ASC`, device, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, baluerr.Wrap(baluerr.KindIO, "storage.historyDiskIO", err)
	}
	defer rows.Close()

	var out []model.DiskSample
	for rows.Next() {
		var sample model.DiskSample
		if err := rows.Scan(&sample.DeviceName, &sample.TMillis, &sample.ReadBytes, &sample.WriteBytes, &sample.ReadOps, &sample.WriteOps); err != nil {
			return nil, baluerr.Wrap(baluerr.KindIO, "storage.historyDiskIO", err)
		}
		out = append(out, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, baluerr.Wrap(baluerr.KindIO, "storage.historyDiskIO", err)
	}
	return out, nil
}
