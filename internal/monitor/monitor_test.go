package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/baluhost/baluhost/internal/eventbus"
	"github.com/baluhost/baluhost/internal/model"
	"github.com/baluhost/baluhost/internal/procadapter"
)

type recordingWriter struct {
	cpuWrites  int
	deleted    []string
}

func (w *recordingWriter) WriteCPUSample(ctx context.Context, s model.CpuSample) error {
	w.cpuWrites++
	return nil
}
func (w *recordingWriter) WriteMemorySample(ctx context.Context, s model.MemorySample) error { return nil }
func (w *recordingWriter) WriteNetworkSample(ctx context.Context, s model.NetworkSample) error { return nil }
func (w *recordingWriter) WriteDiskSample(ctx context.Context, s model.DiskSample) error       { return nil }
func (w *recordingWriter) WriteSmartRecord(ctx context.Context, r model.SmartRecord) error     { return nil }
func (w *recordingWriter) WriteProcessSample(ctx context.Context, s model.ProcessSample) error { return nil }
func (w *recordingWriter) DeleteOlderThan(ctx context.Context, table string, cutoff time.Time) error {
	w.deleted = append(w.deleted, table)
	return nil
}

func newTestOrchestrator() (*Orchestrator, *recordingWriter) {
	fake := procadapter.NewFakeAdapter().
		SeedFile("/proc/stat", []byte("cpu  100 0 50 850 0 0 0 0 0 0\n")).
		SeedFile("/proc/meminfo", []byte("MemTotal: 1000 kB\nMemFree: 500 kB\nCached: 100 kB\nBuffers: 0 kB\nSwapTotal: 0 kB\nSwapFree: 0 kB\n")).
		SeedFile("/proc/net/dev", []byte("Inter-|   Receive\n face |bytes\nlo: 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0\n")).
		SeedGlob("/sys/block/*", []string{"/sys/block/sda"}).
		SeedGlob("/proc/[0-9]*", nil).
		SeedCounters("sda", procadapter.DiskCounters{ReadOps: 10, ReadBytes: 1024})

	writer := &recordingWriter{}
	o := New(Config{
		Adapter: fake,
		Bus:     eventbus.New(nil),
		Writer:  writer,
		Policy:  RetentionPolicy{"cpu_samples": time.Hour},
	})
	return o, writer
}

func TestTickPopulatesRingsAndWrites(t *testing.T) {
	o, writer := newTestOrchestrator()
	o.tick(context.Background(), time.Now())

	if _, ok := o.CurrentCPU(); !ok {
		t.Error("expected a CPU reading after tick")
	}
	if _, ok := o.CurrentMemory(); !ok {
		t.Error("expected a memory reading after tick")
	}
	if writer.cpuWrites != 1 {
		t.Errorf("cpuWrites = %d, want 1", writer.cpuWrites)
	}
	if len(writer.deleted) != 1 || writer.deleted[0] != "cpu_samples" {
		t.Errorf("expected retention pass against cpu_samples, got %v", writer.deleted)
	}
}

func TestHealthStartsAtFullScoreWithNoArrays(t *testing.T) {
	o, _ := newTestOrchestrator()
	o.tick(context.Background(), time.Now())

	snap := o.Health()
	if snap.Score != 100 {
		t.Errorf("score = %d, want 100 (anomalies: %+v)", snap.Score, snap.Anomalies)
	}
}
