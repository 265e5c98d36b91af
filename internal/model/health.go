package model

// Anomaly is a single detected deviation surfaced in a HealthSnapshot.
// Severity is "critical" or "warning".
type Anomaly struct {
	Resource string
	Severity string
	Message  string
}

// HealthSnapshot is the monitoring orchestrator's derived read: a 0-100
// score plus the anomalies that drove deductions. This is not part of
// the original distillation's module list; it supplements it the way
// the teacher's USE-methodology scorer does, adapted from per-collector
// utilization/saturation/error triples to BaluHost's CPU/memory/SMART/
// RAID current samples.
type HealthSnapshot struct {
	Score     int
	Anomalies []Anomaly
}

// ComputeHealth scores the current system state. It deducts points for
// CPU/memory utilization, SMART failures, and RAID degradation/failure;
// disk I/O throughput is not an input and is not scored. CPU and memory
// use the teacher's weighted deduction ladder (95/85/70 thresholds)
// rather than a single hard
// cutoff, so a system sliding from "fine" to "critical" shows up as a
// smoothly dropping score instead of a step function.
func ComputeHealth(cpu *CpuSample, mem *MemorySample, smart []SmartRecord, arrays []RaidArray) HealthSnapshot {
	score := 100
	var anomalies []Anomaly

	if cpu != nil {
		switch {
		case cpu.TotalPct >= 95:
			score -= 15
			anomalies = append(anomalies, Anomaly{"cpu", "critical", "CPU utilization >= 95%"})
		case cpu.TotalPct >= 85:
			score -= 8
			anomalies = append(anomalies, Anomaly{"cpu", "warning", "CPU utilization >= 85%"})
		case cpu.TotalPct >= 70:
			score -= 3
		}
	}

	if mem != nil && mem.TotalBytes > 0 {
		usedPct := float64(mem.UsedBytes) / float64(mem.TotalBytes) * 100
		switch {
		case usedPct >= 95:
			score -= 15
			anomalies = append(anomalies, Anomaly{"memory", "critical", "memory utilization >= 95%"})
		case usedPct >= 85:
			score -= 8
			anomalies = append(anomalies, Anomaly{"memory", "warning", "memory utilization >= 85%"})
		case usedPct >= 70:
			score -= 3
		}
	}

	for _, s := range smart {
		if s.Health == SmartFailed {
			score -= 20
			anomalies = append(anomalies, Anomaly{"disk:" + s.DeviceName, "critical", "SMART health check failed"})
		}
	}

	for _, a := range arrays {
		switch a.Status {
		case StatusDegraded:
			score -= 10
			anomalies = append(anomalies, Anomaly{"raid:" + a.Name, "warning", "array degraded"})
		case StatusFailed:
			score -= 30
			anomalies = append(anomalies, Anomaly{"raid:" + a.Name, "critical", "array failed"})
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return HealthSnapshot{Score: score, Anomalies: anomalies}
}
