package scanner

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/shuttlehq/shuttle/internal/task"
)

// EnterpriseScanner drives a real-time enterprise AV binary through its
// "scan custom --path <P>" subcommand.
type EnterpriseScanner struct {
	Binary string
}

// NewEnterpriseScanner returns a Scanner bound to binary, e.g.
// "/opt/microsoft/mdatp/sbin/mdatp" or a vendor-equivalent CLI.
func NewEnterpriseScanner(binary string) *EnterpriseScanner {
	return &EnterpriseScanner{Binary: binary}
}

func (s *EnterpriseScanner) Name() string { return "enterprise" }

func (s *EnterpriseScanner) Scan(ctx context.Context, t task.FileTask) task.Verdict {
	return runScan(ctx, t, s.Binary, []string{"scan", "custom", "--path", t.QuarantinePath})
}

// Version invokes the binary's own version subcommand and returns the
// trimmed first line of output.
func (s *EnterpriseScanner) Version(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, s.Binary, "version")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("enterprise scanner version: %w", err)
	}
	line := strings.SplitN(strings.TrimSpace(string(out)), "\n", 2)[0]
	return strings.TrimSpace(line), nil
}
