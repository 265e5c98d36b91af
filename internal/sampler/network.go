package sampler

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/baluhost/baluhost/internal/baluerr"
	"github.com/baluhost/baluhost/internal/model"
	"github.com/baluhost/baluhost/internal/procadapter"
)

type netRaw struct {
	at                                time.Time
	rxBytes, txBytes, rxPkts, txPkts uint64
	rxErrors, txErrors                uint64
}

// NetworkSampler aggregates /proc/net/dev across every non-loopback
// interface into a single system-wide throughput reading.
type NetworkSampler struct {
	adapter procadapter.Adapter

	mu   sync.Mutex
	prev *netRaw
}

func NewNetworkSampler(adapter procadapter.Adapter) *NetworkSampler {
	return &NetworkSampler{adapter: adapter}
}

func (s *NetworkSampler) Sample(now time.Time) (model.NetworkSample, error) {
	data, err := s.adapter.ReadFile("/proc/net/dev")
	if err != nil {
		return model.NetworkSample{}, baluerr.Wrap(baluerr.KindIO, "sampler.network.sample", err)
	}
	cur := aggregateNetDev(data, now)

	s.mu.Lock()
	prev := s.prev
	s.prev = &cur
	s.mu.Unlock()

	sample := model.NetworkSample{TMillis: now.UnixMilli()}
	if prev == nil {
		return sample, nil
	}
	elapsed := cur.at.Sub(prev.at).Seconds()
	if elapsed <= 0 {
		return sample, nil
	}
	if cur.rxBytes < prev.rxBytes || cur.txBytes < prev.txBytes {
		// Counter wrap or interface reset: skip this tick (§8 S5).
		return sample, nil
	}

	sample.RxBytesPerSec = int64(float64(cur.rxBytes-prev.rxBytes) / elapsed)
	sample.TxBytesPerSec = int64(float64(cur.txBytes-prev.txBytes) / elapsed)
	sample.RxPktsPerSec = int64(float64(cur.rxPkts-prev.rxPkts) / elapsed)
	sample.TxPktsPerSec = int64(float64(cur.txPkts-prev.txPkts) / elapsed)
	sample.RxErrors = int64(cur.rxErrors)
	sample.TxErrors = int64(cur.txErrors)
	return sample, nil
}

func aggregateNetDev(data []byte, now time.Time) netRaw {
	var agg netRaw
	agg.at = now

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo <= 2 {
			continue // two header lines
		}
		line := scanner.Text()
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		iface := strings.TrimSpace(parts[0])
		if iface == "lo" {
			continue
		}
		fields := strings.Fields(parts[1])
		if len(fields) < 16 {
			continue
		}
		rxBytes, _ := strconv.ParseUint(fields[0], 10, 64)
		rxPackets, _ := strconv.ParseUint(fields[1], 10, 64)
		rxErrs, _ := strconv.ParseUint(fields[2], 10, 64)
		txBytes, _ := strconv.ParseUint(fields[8], 10, 64)
		txPackets, _ := strconv.ParseUint(fields[9], 10, 64)
		txErrs, _ := strconv.ParseUint(fields[10], 10, 64)

		agg.rxBytes += rxBytes
		agg.txBytes += txBytes
		agg.rxPkts += rxPackets
		agg.txPkts += txPackets
		agg.rxErrors += rxErrs
		agg.txErrors += txErrs
	}
	return agg
}
