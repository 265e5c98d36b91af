package sampler

import (
	"testing"
	"time"

	"github.com/baluhost/baluhost/internal/procadapter"
)

const procStatSample1 = `cpu  100 0 50 850 0 0 0 0 0 0
cpu0 50 0 25 425 0 0 0 0 0 0
cpu1 50 0 25 425 0 0 0 0 0 0
intr 12345
ctxt 54321
`

const procStatSample2 = `cpu  200 0 100 1700 0 0 0 0 0 0
cpu0 100 0 50 850 0 0 0 0 0 0
cpu1 100 0 50 850 0 0 0 0 0 0
intr 12500
ctxt 54500
`

func TestCPUSamplerComputesUtilizationFromDelta(t *testing.T) {
	fake := procadapter.NewFakeAdapter()
	s := NewCPUSampler(fake)

	fake.SeedFile("/proc/stat", []byte(procStatSample1))
	if _, err := s.Sample(time.Unix(0, 0)); err != nil {
		t.Fatalf("Sample: %v", err)
	}

	fake.SeedFile("/proc/stat", []byte(procStatSample2))
	sample, err := s.Sample(time.Unix(1, 0))
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}

	// delta busy = (300-150) = 150, delta total = (2000-1000) = 1000 -> 15%
	if sample.TotalPct < 14.9 || sample.TotalPct > 15.1 {
		t.Errorf("TotalPct = %v, want ~15", sample.TotalPct)
	}
	if len(sample.PerThread) == 0 {
		t.Error("expected per-thread breakdown to be populated")
	}
}

func TestCPUSamplerFirstReadingIsZeroed(t *testing.T) {
	fake := procadapter.NewFakeAdapter().SeedFile("/proc/stat", []byte(procStatSample1))
	s := NewCPUSampler(fake)

	sample, err := s.Sample(time.Unix(0, 0))
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if sample.TotalPct != 0 {
		t.Errorf("TotalPct = %v, want 0 on first reading", sample.TotalPct)
	}
}
