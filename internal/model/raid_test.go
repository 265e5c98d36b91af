package model

import "testing"

func devices(states ...DeviceState) []RaidDevice {
	out := make([]RaidDevice, len(states))
	for i, s := range states {
		out[i] = RaidDevice{Name: "d", State: s, Slot: i}
	}
	return out
}

func TestDeriveStatusRaid1(t *testing.T) {
	tests := []struct {
		name string
		devs []RaidDevice
		want ArrayStatus
	}{
		{"all active", devices(DeviceActive, DeviceActive), StatusOptimal},
		{"one faulty", devices(DeviceActive, DeviceFaulty), StatusDegraded},
		{"all faulty", devices(DeviceFaulty, DeviceFaulty), StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveStatus(RaidLevel1, tt.devs, nil)
			if got != tt.want {
				t.Errorf("DeriveStatus = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeriveStatusRaid5(t *testing.T) {
	one := devices(DeviceActive, DeviceActive, DeviceFaulty)
	if got := DeriveStatus(RaidLevel5, one, nil); got != StatusDegraded {
		t.Errorf("one failure: got %v, want degraded", got)
	}
	two := devices(DeviceActive, DeviceFaulty, DeviceFaulty)
	if got := DeriveStatus(RaidLevel5, two, nil); got != StatusFailed {
		t.Errorf("two failures: got %v, want failed", got)
	}
}

func TestDeriveStatusRaid6(t *testing.T) {
	two := devices(DeviceActive, DeviceActive, DeviceFaulty, DeviceFaulty)
	if got := DeriveStatus(RaidLevel6, two, nil); got != StatusDegraded {
		t.Errorf("two failures: got %v, want degraded", got)
	}
	three := devices(DeviceActive, DeviceFaulty, DeviceFaulty, DeviceFaulty)
	if got := DeriveStatus(RaidLevel6, three, nil); got != StatusFailed {
		t.Errorf("three failures: got %v, want failed", got)
	}
}

func TestDeriveStatusRaid0AnyFailureIsFatal(t *testing.T) {
	one := devices(DeviceActive, DeviceFaulty)
	if got := DeriveStatus(RaidLevel0, one, nil); got != StatusFailed {
		t.Errorf("got %v, want failed", got)
	}
}

func TestDeriveStatusRaid10MirrorPairTieBreak(t *testing.T) {
	devs := devices(DeviceFaulty, DeviceFaulty, DeviceActive, DeviceActive)
	deadPair := func(d []RaidDevice) bool {
		return d[0].State == DeviceFaulty && d[1].State == DeviceFaulty
	}
	if got := DeriveStatus(RaidLevel10, devs, deadPair); got != StatusFailed {
		t.Errorf("got %v, want failed when a mirror pair has zero live members", got)
	}

	devs2 := devices(DeviceFaulty, DeviceActive, DeviceActive, DeviceActive)
	if got := DeriveStatus(RaidLevel10, devs2, deadPair); got != StatusDegraded {
		t.Errorf("got %v, want degraded when every pair still has a live member", got)
	}
}

func TestDeriveStatusEmptyArrayIsInactive(t *testing.T) {
	if got := DeriveStatus(RaidLevel1, nil, nil); got != StatusInactive {
		t.Errorf("got %v, want inactive", got)
	}
}

func TestComputeHealthDeductsForDegradedArray(t *testing.T) {
	arrays := []RaidArray{{Name: "md0", Status: StatusDegraded}}
	snap := ComputeHealth(nil, nil, nil, arrays)
	if snap.Score >= 100 {
		t.Errorf("expected deduction for degraded array, score = %d", snap.Score)
	}
	if len(snap.Anomalies) != 1 {
		t.Errorf("expected one anomaly, got %d", len(snap.Anomalies))
	}
}

func TestComputeHealthPerfectWhenNothingWrong(t *testing.T) {
	cpu := &CpuSample{TotalPct: 10}
	mem := &MemorySample{TotalBytes: 100, UsedBytes: 10}
	snap := ComputeHealth(cpu, mem, nil, nil)
	if snap.Score != 100 {
		t.Errorf("score = %d, want 100", snap.Score)
	}
}
