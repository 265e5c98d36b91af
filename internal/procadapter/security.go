package procadapter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// allowedBinaryPaths are the directories BaluHost will resolve RAID and
// disk-health tools from. Adapted from the teacher's BCC tool allow
// list, narrowed to the binaries this control plane actually spawns.
var allowedBinaryPaths = []string{
	"/usr/sbin",
	"/usr/bin",
	"/usr/local/sbin",
	"/usr/local/bin",
	"/sbin",
	"/bin",
}

// managedTools are the only binaries the adapter will ever resolve and
// run, per §6's "Process spawns" list.
var managedTools = map[string]bool{
	"mdadm":    true,
	"smartctl": true,
	"hdparm":   true,
	"rtcwake":  true,
	"cpupower": true,
}

// securityChecker verifies binary identity and sanitizes the subprocess
// environment before any mdadm/smartctl/... invocation.
type securityChecker struct {
	allowedPaths []string
}

func newSecurityChecker() *securityChecker {
	return &securityChecker{allowedPaths: allowedBinaryPaths}
}

// resolveBinary finds tool in one of the allowed directories.
func (sc *securityChecker) resolveBinary(tool string) (string, error) {
	if !managedTools[tool] {
		return "", fmt.Errorf("tool %q is not a managed binary", tool)
	}
	for _, dir := range sc.allowedPaths {
		path := filepath.Join(dir, tool)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("tool %q not found in allowed paths: %v", tool, sc.allowedPaths)
}

// verifyBinary checks that path sits in an allowed directory, is not a
// directory, is owned by root, and is not world-writable.
func (sc *securityChecker) verifyBinary(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	dir := filepath.Dir(absPath)
	allowed := false
	for _, allowedDir := range sc.allowedPaths {
		if dir == allowedDir {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("binary %q is not in an allowed directory", absPath)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("stat %q: %w", absPath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%q is a directory", absPath)
	}

	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if stat.Uid != 0 {
			return fmt.Errorf("binary %q is not owned by root (uid=%d)", absPath, stat.Uid)
		}
	}

	if perm := info.Mode().Perm(); perm&0002 != 0 {
		return fmt.Errorf("binary %q is world-writable (mode=%s)", absPath, info.Mode())
	}
	return nil
}

// sanitizeEnv returns a minimal, safe subprocess environment. Only
// essential variables are kept, preventing environment injection via
// whatever launched the BaluHost process.
func (sc *securityChecker) sanitizeEnv() []string {
	safeVars := map[string]bool{
		"PATH": true, "HOME": true, "LANG": true, "LC_ALL": true, "TERM": true, "TMPDIR": true,
	}

	var env []string
	for _, e := range os.Environ() {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) == 2 && safeVars[parts[0]] {
			env = append(env, e)
		}
	}

	hasPath := false
	for _, e := range env {
		if strings.HasPrefix(e, "PATH=") {
			hasPath = true
			break
		}
	}
	if !hasPath {
		env = append(env, "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin")
	}
	return env
}
