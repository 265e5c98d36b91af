package procadapter

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// RealAdapter executes actual processes and reads real /proc, /sys.
// Every managed-tool invocation is circuit-broken per binary, and
// mdadm invocations are additionally serialized by a single global lock
// to prevent superblock races (§5).
type RealAdapter struct {
	procRoot string
	sysRoot  string
	security *securityChecker
	log      *zap.SugaredLogger

	mdadmLock sync.Mutex
	breakers  map[string]*gobreaker.CircuitBreaker
	breakerMu sync.Mutex
}

// NewRealAdapter builds a RealAdapter rooted at the given procfs/sysfs
// mount points (normally "/proc" and "/sys").
func NewRealAdapter(procRoot, sysRoot string, log *zap.SugaredLogger) *RealAdapter {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &RealAdapter{
		procRoot: procRoot,
		sysRoot:  sysRoot,
		security: newSecurityChecker(),
		log:      log,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (a *RealAdapter) breakerFor(tool string) *gobreaker.CircuitBreaker {
	a.breakerMu.Lock()
	defer a.breakerMu.Unlock()
	if cb, ok := a.breakers[tool]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        tool,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			a.log.Warnw("circuit breaker state change", "tool", name, "from", from, "to", to)
		},
	})
	a.breakers[tool] = cb
	return cb
}

func (a *RealAdapter) Run(ctx context.Context, cmd string, args []string, timeout time.Duration) (*CommandResult, error) {
	binPath, err := a.security.resolveBinary(cmd)
	if err != nil {
		return nil, errNotAvailable("procadapter.run", err)
	}
	if err := a.security.verifyBinary(binPath); err != nil {
		return nil, errPermission("procadapter.run", err)
	}

	breaker := a.breakerFor(cmd)
	result, err := breaker.Execute(func() (interface{}, error) {
		return a.exec(ctx, binPath, args, timeout)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			return nil, errNotAvailable("procadapter.run", fmt.Errorf("%s: circuit open after repeated failures", cmd))
		}
		return nil, err
	}
	return result.(*CommandResult), nil
}

func (a *RealAdapter) exec(ctx context.Context, binPath string, args []string, timeout time.Duration) (*CommandResult, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, binPath, args...)
	cmd.Env = a.security.sanitizeEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := &CommandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if runCtx.Err() != nil {
		return res, errTimeout("procadapter.exec", runCtx.Err())
	}
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			// Non-zero exit is a legitimate result, not an adapter failure;
			// callers inspect ExitCode/Stderr themselves.
			return res, nil
		}
		return nil, errIO("procadapter.exec", err)
	}
	return res, nil
}

func (a *RealAdapter) SpawnMdadm(ctx context.Context, args []string, timeout time.Duration) (*CommandResult, error) {
	a.mdadmLock.Lock()
	defer a.mdadmLock.Unlock()
	return a.Run(ctx, "mdadm", args, timeout)
}

func (a *RealAdapter) SpawnSmartctl(ctx context.Context, device string, timeout time.Duration) (*CommandResult, error) {
	return a.Run(ctx, "smartctl", []string{"-H", "-A", "-j", device}, timeout)
}

func (a *RealAdapter) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, errPermission("procadapter.readFile", err)
		}
		return nil, errIO("procadapter.readFile", err)
	}
	return data, nil
}

func (a *RealAdapter) WriteFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		if os.IsPermission(err) {
			return errPermission("procadapter.writeFile", err)
		}
		return errIO("procadapter.writeFile", err)
	}
	return nil
}

func (a *RealAdapter) Glob(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errIO("procadapter.glob", err)
	}
	return matches, nil
}

// ReadCounters parses /proc/diskstats for deviceName.
func (a *RealAdapter) ReadCounters(deviceName string) (DiskCounters, error) {
	data, err := a.ReadFile(filepath.Join(a.procRoot, "diskstats"))
	if err != nil {
		return DiskCounters{}, err
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 14 || fields[2] != deviceName {
			continue
		}
		readOps, _ := strconv.ParseUint(fields[3], 10, 64)
		readSectors, _ := strconv.ParseUint(fields[5], 10, 64)
		writeOps, _ := strconv.ParseUint(fields[7], 10, 64)
		writeSectors, _ := strconv.ParseUint(fields[9], 10, 64)
		return DiskCounters{
			ReadOps:    readOps,
			ReadBytes:  readSectors * 512,
			WriteOps:   writeOps,
			WriteBytes: writeSectors * 512,
		}, nil
	}
	return DiskCounters{}, errParse("procadapter.readCounters", fmt.Errorf("device %q not found in diskstats", deviceName))
}

// Preflight reports which managed tools resolve and verify cleanly,
// without attempting to install anything — BaluHost is an appliance,
// not a package manager front-end (contrast with the teacher's
// installer.Installer, which shells out to apt/yum).
func (a *RealAdapter) Preflight() []ToolStatus {
	tools := []string{"mdadm", "smartctl", "hdparm", "rtcwake", "cpupower"}
	statuses := make([]ToolStatus, 0, len(tools))
	for _, tool := range tools {
		path, err := a.security.resolveBinary(tool)
		if err != nil {
			statuses = append(statuses, ToolStatus{Tool: tool, Available: false, Reason: err.Error()})
			continue
		}
		if err := a.security.verifyBinary(path); err != nil {
			statuses = append(statuses, ToolStatus{Tool: tool, Path: path, Available: false, Reason: err.Error()})
			continue
		}
		statuses = append(statuses, ToolStatus{Tool: tool, Path: path, Available: true})
	}
	return statuses
}
