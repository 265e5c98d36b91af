package files

import (
	"path/filepath"
	"strings"

	"github.com/baluhost/baluhost/internal/baluerr"
)

// sandbox resolves a user-supplied, mountpoint-relative path against a
// mountpoint's canonical root and guarantees the result stays inside it.
// Every file operation — read, write, list, rename, delete — goes
// through this check first, per §4.6.
func sandbox(root, userPath string) (string, error) {
	canonicalRoot := filepath.Clean(root)
	joined := filepath.Join(canonicalRoot, userPath)
	joined = filepath.Clean(joined)

	if joined != canonicalRoot && !strings.HasPrefix(joined, canonicalRoot+string(filepath.Separator)) {
		return "", baluerr.New(baluerr.KindPathEscape, "files.sandbox", "path escapes mountpoint root: "+userPath)
	}
	return joined, nil
}

// relativize turns an absolute path back into the mountpoint-relative
// form FileMetadata rows are keyed by.
func relativize(root, abs string) string {
	rel, err := filepath.Rel(filepath.Clean(root), abs)
	if err != nil {
		return abs
	}
	return rel
}
