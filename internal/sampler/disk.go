// Package sampler reads instantaneous system metrics through a
// procadapter.Adapter and turns them into model samples. Unlike the
// teacher's collectors, a Sampler here does not block for an interval
// internally — it keeps the previous raw reading and derives rates from
// the delta against whatever interval the monitor orchestrator actually
// ticked at (C2/C3 of the storage & device control plane).
package sampler

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/baluhost/baluhost/internal/baluerr"
	"github.com/baluhost/baluhost/internal/model"
	"github.com/baluhost/baluhost/internal/procadapter"
)

// partitionRe excludes partitions so whole-disk counters aren't
// double-counted, e.g. sda1, nvme0n1p1, mmcblk0p1.
var partitionRe = regexp.MustCompile(`^(sd[a-z]+|hd[a-z]+|vd[a-z]+)\d+$|^(nvme\d+n\d+)p\d+$|^(mmcblk\d+)p\d+$`)

func isVirtualOrPartition(name string) bool {
	if strings.HasPrefix(name, "loop") || strings.HasPrefix(name, "ram") || strings.HasPrefix(name, "dm-") {
		return true
	}
	return partitionRe.MatchString(name)
}

type diskRaw struct {
	at         time.Time
	readOps    uint64
	readBytes  uint64
	writeOps   uint64
	writeBytes uint64
}

// DiskSampler emits per-device model.DiskSample readings, rate-limited
// against the previous reading for each device independently.
type DiskSampler struct {
	adapter procadapter.Adapter

	mu   sync.Mutex
	prev map[string]diskRaw
}

func NewDiskSampler(adapter procadapter.Adapter) *DiskSampler {
	return &DiskSampler{adapter: adapter, prev: make(map[string]diskRaw)}
}

// Devices lists whole-disk block device names visible under /sys/block.
func (s *DiskSampler) Devices() ([]string, error) {
	matches, err := s.adapter.Glob("/sys/block/*")
	if err != nil {
		return nil, baluerr.Wrap(baluerr.KindIO, "sampler.disk.devices", err)
	}
	var names []string
	for _, m := range matches {
		name := m[strings.LastIndex(m, "/")+1:]
		if !isVirtualOrPartition(name) {
			names = append(names, name)
		}
	}
	return names, nil
}

// Sample reads current counters for deviceName and, if a previous
// reading exists, returns per-second rates; otherwise it seeds the
// baseline and returns a zeroed sample (caller should discard the
// first reading per device, matching the teacher's two-point convention).
func (s *DiskSampler) Sample(deviceName string, now time.Time) (model.DiskSample, error) {
	counters, err := s.adapter.ReadCounters(deviceName)
	if err != nil {
		return model.DiskSample{}, err
	}

	cur := diskRaw{at: now, readOps: counters.ReadOps, readBytes: counters.ReadBytes,
		writeOps: counters.WriteOps, writeBytes: counters.WriteBytes}

	s.mu.Lock()
	prev, ok := s.prev[deviceName]
	s.prev[deviceName] = cur
	s.mu.Unlock()

	sample := model.DiskSample{DeviceName: deviceName, TMillis: now.UnixMilli()}
	if !ok {
		return sample, nil
	}

	elapsed := cur.at.Sub(prev.at).Seconds()
	if elapsed <= 0 {
		return sample, nil
	}

	// Counters are monotonic cumulative; a decrease means the counter
	// wrapped or the device was reset, so that tick is skipped (§8 S5)
	// rather than reported as a nonsensical negative rate.
	if cur.readOps < prev.readOps || cur.writeOps < prev.writeOps {
		return sample, nil
	}

	sample.ReadBytes = int64(float64(cur.readBytes-prev.readBytes) / elapsed)
	sample.WriteBytes = int64(float64(cur.writeBytes-prev.writeBytes) / elapsed)
	sample.ReadOps = int64(float64(cur.readOps-prev.readOps) / elapsed)
	sample.WriteOps = int64(float64(cur.writeOps-prev.writeOps) / elapsed)
	return sample, nil
}
