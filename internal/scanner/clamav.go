package scanner

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/shuttlehq/shuttle/internal/task"
)

// ClamScanner drives an on-access clamd daemon through its clamdscan
// client. clamdscan connects to an already-running clamd, so
// invocation latency is dominated by the scan itself, not signature
// load time.
type ClamScanner struct {
	Binary string
}

// NewClamScanner returns a Scanner bound to a clamdscan-compatible
// binary path.
func NewClamScanner(binary string) *ClamScanner {
	return &ClamScanner{Binary: binary}
}

func (s *ClamScanner) Name() string { return "clamav" }

func (s *ClamScanner) Scan(ctx context.Context, t task.FileTask) task.Verdict {
	// --fdpass: pass an open file descriptor to the daemon rather than
	// a path, so a daemon running as a different user can still read
	// the quarantined file regardless of directory permissions.
	args := []string{"--fdpass", "--no-summary", t.QuarantinePath}
	return runScan(ctx, t, s.Binary, args)
}

// Version parses clamdscan --version output, formatted as
// "ClamAV <engine>/<database>/<built>".
func (s *ClamScanner) Version(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, s.Binary, "--version")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("clamav scanner version: %w", err)
	}

	versionLine := strings.TrimSpace(string(out))
	parts := strings.SplitN(versionLine, "/", 2)
	engine := strings.TrimPrefix(parts[0], "ClamAV ")
	return strings.TrimSpace(engine), nil
}
