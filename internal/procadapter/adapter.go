// Package procadapter wraps every shell-out (mdadm, smartctl, hdparm,
// rtcwake, cpupower), /proc and /sys reads, and disk counter reads
// behind a single typed interface (C1 of the storage & device control
// plane). All RAID/monitoring callers route through this interface so
// the rest of the core is testable without root and on non-Linux hosts.
package procadapter

import (
	"context"
	"time"

	"github.com/baluhost/baluhost/internal/baluerr"
)

// CommandResult captures the outcome of a shell-out.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// DiskCounters is one reading of /proc/diskstats fields for a device.
type DiskCounters struct {
	ReadOps    uint64
	ReadBytes  uint64
	WriteOps   uint64
	WriteBytes uint64
}

// ToolStatus reports whether a required binary is present and passes
// the security checker's verification, without attempting to install it.
type ToolStatus struct {
	Tool      string
	Path      string
	Available bool
	Reason    string
}

// Adapter is the capability surface every RAID/monitoring collaborator
// routes through. The real implementation executes actual processes and
// reads /proc, /sys; the fake implementation replays deterministic
// fixtures keyed on the same calls.
type Adapter interface {
	// Run executes an arbitrary allow-listed binary.
	Run(ctx context.Context, cmd string, args []string, timeout time.Duration) (*CommandResult, error)

	// ReadFile reads a /proc or /sys file (or, for the fake adapter, a
	// seeded fixture keyed on path).
	ReadFile(path string) ([]byte, error)

	// WriteFile writes a sysfs/procfs tunable — the handful of kernel
	// knobs (RAID sync speed limits, md sync_action) that are plain
	// text files rather than CLI flags.
	WriteFile(path string, data []byte) error

	// Glob matches sysfs/procfs path patterns, e.g. "/sys/block/*".
	Glob(pattern string) ([]string, error)

	// ReadCounters reads /proc/diskstats-derived counters for one device.
	ReadCounters(deviceName string) (DiskCounters, error)

	// SpawnMdadm runs mdadm with the given args under the adapter's
	// circuit breaker and the global mdadm serialization lock.
	SpawnMdadm(ctx context.Context, args []string, timeout time.Duration) (*CommandResult, error)

	// SpawnSmartctl runs `smartctl -H -A -j <device>`.
	SpawnSmartctl(ctx context.Context, device string, timeout time.Duration) (*CommandResult, error)

	// Preflight reports which well-known tools are usable right now.
	Preflight() []ToolStatus
}

// Error kind helpers — every Adapter implementation returns errors
// wrapped with one of these, per §7 of the specification.
func errNotAvailable(op string, err error) error { return baluerr.Wrap(baluerr.KindNotAvailable, op, err) }
func errPermission(op string, err error) error   { return baluerr.Wrap(baluerr.KindPermissionDenied, op, err) }
func errTimeout(op string, err error) error      { return baluerr.Wrap(baluerr.KindTimeout, op, err) }
func errParse(op string, err error) error        { return baluerr.Wrap(baluerr.KindParse, op, err) }
func errIO(op string, err error) error           { return baluerr.Wrap(baluerr.KindIO, op, err) }
