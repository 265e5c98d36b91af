package sampler

import (
	"bytes"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/baluhost/baluhost/internal/baluerr"
	"github.com/baluhost/baluhost/internal/model"
	"github.com/baluhost/baluhost/internal/procadapter"
)

type procRaw struct {
	at    time.Time
	ticks uint64
}

// ProcessSampler ranks processes by CPU delta between ticks. selfPID is
// excluded from results so the control plane's own process never shows
// up as the top consumer on an otherwise idle appliance.
type ProcessSampler struct {
	adapter   procadapter.Adapter
	selfPID   int
	clockTick float64

	mu   sync.Mutex
	prev map[int]procRaw
}

func NewProcessSampler(adapter procadapter.Adapter, selfPID int) *ProcessSampler {
	return &ProcessSampler{adapter: adapter, selfPID: selfPID, clockTick: 100, prev: make(map[int]procRaw)}
}

func (s *ProcessSampler) Sample(now time.Time, topN int) (model.ProcessSample, error) {
	pidDirs, err := s.adapter.Glob("/proc/[0-9]*")
	if err != nil {
		return model.ProcessSample{}, baluerr.Wrap(baluerr.KindIO, "sampler.process.sample", err)
	}

	cur := make(map[int]procRaw, len(pidDirs))
	entries := make([]model.ProcessEntry, 0, len(pidDirs))

	s.mu.Lock()
	prev := s.prev
	s.mu.Unlock()

	for _, dir := range pidDirs {
		parts := strings.Split(dir, "/")
		pid, convErr := strconv.Atoi(parts[len(parts)-1])
		if convErr != nil || pid == s.selfPID {
			continue
		}
		stat, readErr := s.adapter.ReadFile(dir + "/stat")
		if readErr != nil {
			continue
		}
		comm, ticks, rss, ok := parseProcStatLine(stat)
		if !ok {
			continue
		}
		cur[pid] = procRaw{at: now, ticks: ticks}

		entry := model.ProcessEntry{PID: pid, Comm: comm, RSSBytes: rss}
		if p, ok := prev[pid]; ok {
			elapsed := now.Sub(p.at).Seconds()
			if elapsed > 0 && ticks >= p.ticks {
				entry.CPUPct = float64(ticks-p.ticks) / s.clockTick / elapsed * 100
			}
		}
		entries = append(entries, entry)
	}

	s.mu.Lock()
	s.prev = cur
	s.mu.Unlock()

	sortEntriesByCPU(entries)
	if topN > 0 && len(entries) > topN {
		entries = entries[:topN]
	}
	return model.ProcessSample{TMillis: now.UnixMilli(), Entries: entries}, nil
}

func sortEntriesByCPU(entries []model.ProcessEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].CPUPct > entries[j-1].CPUPct; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// parseProcStatLine extracts comm, utime+stime ticks, and RSS (pages)
// from a /proc/<pid>/stat line. The comm field is parenthesized and may
// contain spaces, so field offsets are counted from the closing paren.
func parseProcStatLine(data []byte) (comm string, ticks uint64, rssBytes int64, ok bool) {
	line := string(bytes.TrimSpace(data))
	open := strings.IndexByte(line, '(')
	close := strings.LastIndexByte(line, ')')
	if open < 0 || close < 0 || close < open {
		return "", 0, 0, false
	}
	comm = line[open+1 : close]
	rest := strings.Fields(line[close+1:])
	// rest[0] = state; utime=rest[11], stime=rest[12], rss=rest[21] (0-indexed from state)
	if len(rest) < 22 {
		return "", 0, 0, false
	}
	utime, _ := strconv.ParseUint(rest[11], 10, 64)
	stime, _ := strconv.ParseUint(rest[12], 10, 64)
	rssPages, _ := strconv.ParseInt(rest[21], 10, 64)
	return comm, utime + stime, rssPages * 4096, true
}
