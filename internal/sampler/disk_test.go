package sampler

import (
	"testing"
	"time"

	"github.com/baluhost/baluhost/internal/procadapter"
)

func TestDiskSamplerFirstReadingIsZeroed(t *testing.T) {
	fake := procadapter.NewFakeAdapter().SeedCounters("sda", procadapter.DiskCounters{ReadOps: 100, ReadBytes: 5120})
	s := NewDiskSampler(fake)

	sample, err := s.Sample("sda", time.Unix(0, 0))
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if sample.ReadBytes != 0 || sample.ReadOps != 0 {
		t.Errorf("first reading should be zeroed, got %+v", sample)
	}
}

func TestDiskSamplerComputesRateFromDelta(t *testing.T) {
	fake := procadapter.NewFakeAdapter()
	s := NewDiskSampler(fake)

	fake.SeedCounters("sda", procadapter.DiskCounters{ReadOps: 100, ReadBytes: 10240})
	_, _ = s.Sample("sda", time.Unix(0, 0))

	fake.SeedCounters("sda", procadapter.DiskCounters{ReadOps: 200, ReadBytes: 20480})
	sample, err := s.Sample("sda", time.Unix(1, 0))
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if sample.ReadOps != 100 {
		t.Errorf("ReadOps = %d, want 100", sample.ReadOps)
	}
	if sample.ReadBytes != 10240 {
		t.Errorf("ReadBytes = %d, want 10240", sample.ReadBytes)
	}
}

func TestDiskSamplerSkipsTickOnCounterWrap(t *testing.T) {
	fake := procadapter.NewFakeAdapter()
	s := NewDiskSampler(fake)

	fake.SeedCounters("sda", procadapter.DiskCounters{ReadOps: 500})
	_, _ = s.Sample("sda", time.Unix(0, 0))

	fake.SeedCounters("sda", procadapter.DiskCounters{ReadOps: 10})
	sample, err := s.Sample("sda", time.Unix(1, 0))
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if sample.ReadOps != 0 {
		t.Errorf("expected zeroed sample on counter wrap, got ReadOps=%d", sample.ReadOps)
	}
}

func TestDiskSamplerDevicesExcludesPartitionsAndVirtual(t *testing.T) {
	fake := procadapter.NewFakeAdapter().SeedGlob("/sys/block/*", []string{
		"/sys/block/sda", "/sys/block/sda1", "/sys/block/loop0", "/sys/block/dm-0", "/sys/block/nvme0n1",
	})
	s := NewDiskSampler(fake)

	devices, err := s.Devices()
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	want := map[string]bool{"sda": true, "nvme0n1": true}
	if len(devices) != len(want) {
		t.Fatalf("devices = %v, want %v", devices, want)
	}
	for _, d := range devices {
		if !want[d] {
			t.Errorf("unexpected device %q in result", d)
		}
	}
}
