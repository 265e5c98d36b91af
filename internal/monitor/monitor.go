// Package monitor coordinates the periodic samplers, keeps an in-memory
// ring-buffer history per metric kind, applies retention against a
// persisted time series, and serves the read APIs the scheduler's
// monitoring jobs and the collaborator interface call into (C5).
package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/baluhost/baluhost/internal/eventbus"
	"github.com/baluhost/baluhost/internal/model"
	"github.com/baluhost/baluhost/internal/procadapter"
	"github.com/baluhost/baluhost/internal/sampler"
)

const ringCapacity = 120

// Writer persists one batch of samples; the orchestrator is the only
// writer per table, matching the concurrency contract in §4.5. The
// storage package supplies the real implementation.
type Writer interface {
	WriteCPUSample(ctx context.Context, s model.CpuSample) error
	WriteMemorySample(ctx context.Context, s model.MemorySample) error
	WriteNetworkSample(ctx context.Context, s model.NetworkSample) error
	WriteDiskSample(ctx context.Context, s model.DiskSample) error
	WriteSmartRecord(ctx context.Context, r model.SmartRecord) error
	WriteProcessSample(ctx context.Context, s model.ProcessSample) error
	DeleteOlderThan(ctx context.Context, table string, cutoff time.Time) error
}

// HistoryReader reads from persistence when the requested range exceeds
// the in-memory ring's window.
type HistoryReader interface {
	HistoryCPU(ctx context.Context, from, to time.Time) ([]model.CpuSample, error)
	HistoryDiskIO(ctx context.Context, device string, from, to time.Time) ([]model.DiskSample, error)
}

// RaidLister is the subset of the RAID controller the health computation
// needs, kept narrow to avoid an import cycle between monitor and raid.
type RaidLister interface {
	List() []model.RaidArray
}

// RetentionPolicy maps a table name to how long its rows are kept.
type RetentionPolicy map[string]time.Duration

func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		"cpu_samples":     7 * 24 * time.Hour,
		"memory_samples":  7 * 24 * time.Hour,
		"network_samples": 7 * 24 * time.Hour,
		"disk_io_samples": 30 * 24 * time.Hour,
		"process_samples": 24 * time.Hour,
		"smart_records":   180 * 24 * time.Hour,
	}
}

// Orchestrator owns every sampler, fans them out on each tick, and
// serves current/history reads from the ring with persistence fallback.
type Orchestrator struct {
	adapter procadapter.Adapter
	bus     *eventbus.Bus
	writer  Writer
	history HistoryReader
	raid    RaidLister
	log     *zap.SugaredLogger
	policy  RetentionPolicy

	cpu     *sampler.CPUSampler
	memory  *sampler.MemorySampler
	network *sampler.NetworkSampler
	disk    *sampler.DiskSampler
	process *sampler.ProcessSampler
	smart   *sampler.SmartSampler

	mu          sync.RWMutex
	cpuRing     *ring[model.CpuSample]
	memRing     *ring[model.MemorySample]
	netRing     *ring[model.NetworkSample]
	diskRings   map[string]*ring[model.DiskSample]
	smartLatest map[string]model.SmartRecord
	procRing    *ring[model.ProcessSample]

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Config struct {
	Adapter procadapter.Adapter
	Bus     *eventbus.Bus
	Writer  Writer
	History HistoryReader
	Raid    RaidLister
	Log     *zap.SugaredLogger
	Policy  RetentionPolicy
	SelfPID int
}

func New(cfg Config) *Orchestrator {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	policy := cfg.Policy
	if policy == nil {
		policy = DefaultRetentionPolicy()
	}
	return &Orchestrator{
		adapter:     cfg.Adapter,
		bus:         cfg.Bus,
		writer:      cfg.Writer,
		history:     cfg.History,
		raid:        cfg.Raid,
		log:         log,
		policy:      policy,
		cpu:         sampler.NewCPUSampler(cfg.Adapter),
		memory:      sampler.NewMemorySampler(cfg.Adapter),
		network:     sampler.NewNetworkSampler(cfg.Adapter),
		disk:        sampler.NewDiskSampler(cfg.Adapter),
		process:     sampler.NewProcessSampler(cfg.Adapter, cfg.SelfPID),
		smart:       sampler.NewSmartSampler(cfg.Adapter, cfg.Bus),
		cpuRing:     newRing[model.CpuSample](ringCapacity),
		memRing:     newRing[model.MemorySample](ringCapacity),
		netRing:     newRing[model.NetworkSample](ringCapacity),
		diskRings:   make(map[string]*ring[model.DiskSample]),
		smartLatest: make(map[string]model.SmartRecord),
		procRing:    newRing[model.ProcessSample](ringCapacity),
	}
}

// Start launches the periodic tick loop; it returns once the first tick
// has been scheduled, not once it has fired.
func (o *Orchestrator) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				o.tick(ctx, now)
			}
		}
	}()
}

// Stop cancels the tick loop and waits for the in-flight tick to drain.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

func (o *Orchestrator) tick(ctx context.Context, now time.Time) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s, err := o.cpu.Sample(now)
		if err != nil {
			o.log.Warnw("cpu sample failed", "err", err)
			return nil
		}
		o.cpuRing.push(s)
		return o.writer.WriteCPUSample(gctx, s)
	})

	g.Go(func() error {
		s, err := o.memory.Sample(now)
		if err != nil {
			o.log.Warnw("memory sample failed", "err", err)
			return nil
		}
		o.memRing.push(s)
		return o.writer.WriteMemorySample(gctx, s)
	})

	g.Go(func() error {
		s, err := o.network.Sample(now)
		if err != nil {
			o.log.Warnw("network sample failed", "err", err)
			return nil
		}
		o.netRing.push(s)
		return o.writer.WriteNetworkSample(gctx, s)
	})

	g.Go(func() error {
		s, err := o.process.Sample(now, 20)
		if err != nil {
			o.log.Warnw("process sample failed", "err", err)
			return nil
		}
		o.procRing.push(s)
		return o.writer.WriteProcessSample(gctx, s)
	})

	g.Go(func() error {
		devices, err := o.disk.Devices()
		if err != nil {
			o.log.Warnw("disk device enumeration failed", "err", err)
			return nil
		}
		for _, dev := range devices {
			s, sampleErr := o.disk.Sample(dev, now)
			if sampleErr != nil {
				o.log.Warnw("disk sample failed", "device", dev, "err", sampleErr)
				continue
			}
			o.mu.Lock()
			r, ok := o.diskRings[dev]
			if !ok {
				r = newRing[model.DiskSample](ringCapacity)
				o.diskRings[dev] = r
			}
			o.mu.Unlock()
			r.push(s)
			if writeErr := o.writer.WriteDiskSample(gctx, s); writeErr != nil {
				return writeErr
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		o.log.Warnw("monitor tick encountered a write error", "err", err)
	}

	o.applyRetention(ctx)
}

// SampleSmart runs the (slower, hourly) SMART sweep for every known
// device. Invoked by the scheduler's smart-scan job rather than on the
// fast monitor tick.
func (o *Orchestrator) SampleSmart(ctx context.Context, devices []string, now time.Time) {
	for _, dev := range devices {
		record := o.smart.Sample(ctx, dev, now)
		o.mu.Lock()
		o.smartLatest[dev] = record
		o.mu.Unlock()
		if err := o.writer.WriteSmartRecord(ctx, record); err != nil {
			o.log.Warnw("smart record write failed", "device", dev, "err", err)
		}
	}
}

func (o *Orchestrator) applyRetention(ctx context.Context) {
	now := time.Now()
	for table, keep := range o.policy {
		if err := o.writer.DeleteOlderThan(ctx, table, now.Add(-keep)); err != nil {
			o.log.Warnw("retention pass failed", "table", table, "err", err)
		}
	}
}

func (o *Orchestrator) CurrentCPU() (model.CpuSample, bool) {
	return o.cpuRing.latest()
}

func (o *Orchestrator) CurrentMemory() (model.MemorySample, bool) {
	return o.memRing.latest()
}

func (o *Orchestrator) CurrentNetwork() (model.NetworkSample, bool) {
	return o.netRing.latest()
}

// CurrentDisks returns the latest sample for every device the disk
// sampler has seen so far, keyed by device name.
func (o *Orchestrator) CurrentDisks() map[string]model.DiskSample {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]model.DiskSample, len(o.diskRings))
	for dev, r := range o.diskRings {
		if s, ok := r.latest(); ok {
			out[dev] = s
		}
	}
	return out
}

func (o *Orchestrator) CurrentSmart(device string) (model.SmartRecord, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.smartLatest[device]
	return r, ok
}

func (o *Orchestrator) CurrentProcesses() (model.ProcessSample, bool) {
	return o.procRing.latest()
}

// HistoryCPU serves from the ring if the requested range fits inside it,
// falling through to persistence otherwise, per §4.5.
func (o *Orchestrator) HistoryCPU(ctx context.Context, from, to time.Time) ([]model.CpuSample, error) {
	all := o.cpuRing.snapshot()
	if len(all) > 0 && !all[0].TMillisTime().After(from) {
		return filterCPU(all, from, to), nil
	}
	if o.history == nil {
		return filterCPU(all, from, to), nil
	}
	return o.history.HistoryCPU(ctx, from, to)
}

func (o *Orchestrator) HistoryDiskIO(ctx context.Context, device string, from, to time.Time) ([]model.DiskSample, error) {
	o.mu.RLock()
	r, ok := o.diskRings[device]
	o.mu.RUnlock()
	if ok {
		all := r.snapshot()
		if len(all) > 0 && !all[0].TMillisTime().After(from) {
			return filterDisk(all, from, to), nil
		}
	}
	if o.history == nil {
		return nil, nil
	}
	return o.history.HistoryDiskIO(ctx, device, from, to)
}

// Health computes a HealthSnapshot from the latest readings, adapted
// from the teacher's anomaly scorer to this system's CPU/memory/SMART/
// RAID signals. It is a plain synchronous read, not a metrics endpoint.
func (o *Orchestrator) Health() model.HealthSnapshot {
	cpu, hasCPU := o.CurrentCPU()
	mem, hasMem := o.CurrentMemory()

	var cpuPtr *model.CpuSample
	if hasCPU {
		cpuPtr = &cpu
	}
	var memPtr *model.MemorySample
	if hasMem {
		memPtr = &mem
	}

	o.mu.RLock()
	smartRecords := make([]model.SmartRecord, 0, len(o.smartLatest))
	for _, r := range o.smartLatest {
		smartRecords = append(smartRecords, r)
	}
	o.mu.RUnlock()

	var arrays []model.RaidArray
	if o.raid != nil {
		arrays = o.raid.List()
	}

	return model.ComputeHealth(cpuPtr, memPtr, smartRecords, arrays)
}

func filterCPU(in []model.CpuSample, from, to time.Time) []model.CpuSample {
	out := make([]model.CpuSample, 0, len(in))
	for _, s := range in {
		t := s.TMillisTime()
		if !t.Before(from) && !t.After(to) {
			out = append(out, s)
		}
	}
	return out
}

func filterDisk(in []model.DiskSample, from, to time.Time) []model.DiskSample {
	out := make([]model.DiskSample, 0, len(in))
	for _, s := range in {
		t := s.TMillisTime()
		if !t.Before(from) && !t.After(to) {
			out = append(out, s)
		}
	}
	return out
}
