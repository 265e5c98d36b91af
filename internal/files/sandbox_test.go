package files

import (
	"testing"

	"github.com/baluhost/baluhost/internal/baluerr"
)

func TestSandboxAllowsPathsInsideRoot(t *testing.T) {
	got, err := sandbox("/mnt/pool", "docs/report.txt")
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	if got != "/mnt/pool/docs/report.txt" {
		t.Errorf("got %q", got)
	}
}

func TestSandboxAllowsRootItself(t *testing.T) {
	got, err := sandbox("/mnt/pool", ".")
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	if got != "/mnt/pool" {
		t.Errorf("got %q", got)
	}
}

func TestSandboxRejectsDotDotEscape(t *testing.T) {
	_, err := sandbox("/mnt/pool", "../etc/passwd")
	if baluerr.KindOf(err) != baluerr.KindPathEscape {
		t.Fatalf("expected kPathEscape, got %v", err)
	}
}

func TestSandboxRejectsSiblingPrefixCollision(t *testing.T) {
	// "/mnt/pool2" must not be treated as inside "/mnt/pool" merely
	// because it shares a string prefix.
	_, err := sandbox("/mnt/pool", "../pool2/secret")
	if baluerr.KindOf(err) != baluerr.KindPathEscape {
		t.Fatalf("expected kPathEscape, got %v", err)
	}
}

func TestSandboxJoinsAbsoluteUserPathUnderRoot(t *testing.T) {
	// filepath.Join treats an absolute second argument as a plain path
	// segment, not a replacement — so this lands inside root, not outside.
	got, err := sandbox("/mnt/pool", "/etc/passwd")
	if err != nil {
		t.Fatalf("sandbox: %v", err)
	}
	if got != "/mnt/pool/etc/passwd" {
		t.Errorf("got %q", got)
	}
}
