package sampler

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/baluhost/baluhost/internal/baluerr"
	"github.com/baluhost/baluhost/internal/model"
	"github.com/baluhost/baluhost/internal/procadapter"
)

// MemorySampler reads /proc/meminfo. Unlike CPU and disk, memory has no
// delta to compute — every field in meminfo is already a point-in-time
// gauge, so this sampler is stateless.
type MemorySampler struct {
	adapter procadapter.Adapter
}

func NewMemorySampler(adapter procadapter.Adapter) *MemorySampler {
	return &MemorySampler{adapter: adapter}
}

func (s *MemorySampler) Sample(now time.Time) (model.MemorySample, error) {
	data, err := s.adapter.ReadFile("/proc/meminfo")
	if err != nil {
		return model.MemorySample{}, baluerr.Wrap(baluerr.KindIO, "sampler.memory.sample", err)
	}

	fields := map[string]int64{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), ":", 2)
		if len(parts) != 2 {
			continue
		}
		valStr := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(parts[1]), "kB"))
		valStr = strings.Fields(valStr)[0]
		val, convErr := strconv.ParseInt(valStr, 10, 64)
		if convErr != nil {
			continue
		}
		fields[strings.TrimSpace(parts[0])] = val * 1024
	}

	total := fields["MemTotal"]
	free := fields["MemFree"]
	cached := fields["Cached"] + fields["Buffers"]
	swapTotal := fields["SwapTotal"]
	swapFree := fields["SwapFree"]

	return model.MemorySample{
		TMillis:     now.UnixMilli(),
		TotalBytes:  total,
		UsedBytes:   total - free - cached,
		CachedBytes: cached,
		SwapBytes:   swapTotal - swapFree,
	}, nil
}
