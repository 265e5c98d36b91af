package sampler

import (
	"bufio"
	"bytes"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/baluhost/baluhost/internal/baluerr"
	"github.com/baluhost/baluhost/internal/model"
	"github.com/baluhost/baluhost/internal/procadapter"
)

type cpuTimes struct {
	user, nice, system, idle, iowait, irq, softirq, steal uint64
}

func (t cpuTimes) total() uint64 {
	return t.user + t.nice + t.system + t.idle + t.iowait + t.irq + t.softirq + t.steal
}

func (t cpuTimes) busy() uint64 {
	return t.total() - t.idle - t.iowait
}

type cpuRaw struct {
	at      time.Time
	overall cpuTimes
	perCPU  map[int]cpuTimes
}

// CPUSampler derives overall and per-thread utilization percentages
// from /proc/stat deltas.
type CPUSampler struct {
	adapter procadapter.Adapter

	mu   sync.Mutex
	prev *cpuRaw
}

func NewCPUSampler(adapter procadapter.Adapter) *CPUSampler {
	return &CPUSampler{adapter: adapter}
}

func (s *CPUSampler) Sample(now time.Time) (model.CpuSample, error) {
	data, err := s.adapter.ReadFile("/proc/stat")
	if err != nil {
		return model.CpuSample{}, baluerr.Wrap(baluerr.KindIO, "sampler.cpu.sample", err)
	}
	overall, perCPU := parseProcStat(data)
	cur := &cpuRaw{at: now, overall: overall, perCPU: perCPU}

	s.mu.Lock()
	prev := s.prev
	s.prev = cur
	s.mu.Unlock()

	sample := model.CpuSample{TMillis: now.UnixMilli()}
	if prev == nil {
		return sample, nil
	}

	totalDelta := cur.overall.total() - prev.overall.total()
	if totalDelta == 0 {
		return sample, nil
	}
	busyDelta := cur.overall.busy() - prev.overall.busy()
	sample.TotalPct = float64(busyDelta) / float64(totalDelta) * 100

	if len(cur.perCPU) > 0 {
		sample.PerThread = make([]float64, runtime.NumCPU())
		for id, c := range cur.perCPU {
			if id < 0 || id >= len(sample.PerThread) {
				continue
			}
			p, ok := prev.perCPU[id]
			if !ok {
				continue
			}
			d := c.total() - p.total()
			if d == 0 {
				continue
			}
			sample.PerThread[id] = float64(c.busy()-p.busy()) / float64(d) * 100
		}
	}

	return sample, nil
}

func parseProcStat(data []byte) (cpuTimes, map[int]cpuTimes) {
	var overall cpuTimes
	perCPU := make(map[int]cpuTimes)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 8 || !strings.HasPrefix(fields[0], "cpu") {
			continue
		}
		t := parseCPUFields(fields[1:])
		if fields[0] == "cpu" {
			overall = t
			continue
		}
		idStr := strings.TrimPrefix(fields[0], "cpu")
		id, err := strconv.Atoi(idStr)
		if err != nil {
			continue
		}
		perCPU[id] = t
	}
	return overall, perCPU
}

func parseCPUFields(fields []string) cpuTimes {
	vals := make([]uint64, 8)
	for i := 0; i < len(fields) && i < 8; i++ {
		vals[i], _ = strconv.ParseUint(fields[i], 10, 64)
	}
	return cpuTimes{
		user: vals[0], nice: vals[1], system: vals[2], idle: vals[3],
		iowait: vals[4], irq: vals[5], softirq: vals[6], steal: vals[7],
	}
}
