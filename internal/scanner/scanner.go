// Package scanner implements the Scanner Adapter: a uniform verdict
// interface over the two recognized scanner binaries, built on
// literal, whitespace-anchored output matching rather than any notion
// of "does the output look clean." A filename can legitimately contain
// the substring a clean verdict would otherwise match on, so matching
// is always against the scanner's own trailing report line, never a
// substring search over the whole blob.
package scanner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/shuttlehq/shuttle/internal/task"
)

// cleanSuffix is the exact trailing report line an enterprise-AV or
// clamdscan-style invocation emits when nothing was found. It is
// matched as a suffix of the combined output, never as a substring.
const cleanSuffix = "\n\t0 threat(s) detected"

// notFoundSuffix means the target path itself was never scanned (e.g.
// it vanished between staging and invocation). Checked as a more
// specific case of cleanSuffix, so it must be tested first.
const notFoundSuffix = "\n\t0 file(s) scanned\n\t0 threat(s) detected"

// suspectMarker anywhere in the output means a threat was reported.
// Checked before cleanSuffix: a scanner does not emit both, but the
// suspect check takes priority if it ever did.
const suspectMarker = "Threat(s) found"

// Scanner is the uniform interface the Scan Orchestrator drives. A
// Scanner implementation owns its own subprocess invocation and output
// parsing; it holds no per-scan state and is safe to share across
// worker goroutines.
type Scanner interface {
	// Scan invokes the scanner binary against t.QuarantinePath and
	// classifies its output. ctx bounds the subprocess; a context
	// deadline exceeded surfaces as task.VerdictTimeout, never as an
	// error return.
	Scan(ctx context.Context, t task.FileTask) task.Verdict

	// Version reports the scanner's own version string, used by the
	// Scanner Guard to consult the ledger.
	Version(ctx context.Context) (string, error)

	// Name identifies which recognized variant this is ("enterprise" or
	// "clamav"), for logging and the ledger lookup key.
	Name() string
}

// classify applies the literal anchored patterns to a scanner's
// combined stdout+stderr output. It never inspects the scanned file's
// own name or path.
func classify(output []byte) task.VerdictKind {
	out := string(output)
	switch {
	case strings.Contains(out, suspectMarker):
		return task.VerdictSuspect
	case strings.HasSuffix(out, notFoundSuffix):
		return task.VerdictNotFound
	case strings.HasSuffix(out, cleanSuffix):
		return task.VerdictClean
	default:
		return task.VerdictFailed
	}
}

// runScan is the shared subprocess-invocation/timeout/classify path
// used by both concrete scanners; only the binary and argument list
// differ between them.
func runScan(ctx context.Context, t task.FileTask, binary string, args []string) task.Verdict {
	cmd := exec.CommandContext(ctx, binary, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()

	if ctx.Err() != nil {
		return task.Verdict{Task: t, Kind: task.VerdictTimeout, Err: ctx.Err()}
	}

	// A nonzero exit that still carries a recognizable report line is
	// not a failure: scanners exit nonzero on a detected threat.
	kind := classify(buf.Bytes())
	if kind == task.VerdictFailed && err != nil {
		return task.Verdict{
			Task: t,
			Kind: task.VerdictFailed,
			Err:  fmt.Errorf("scanner: %s: %w: %s", binary, err, truncate(buf.String(), 500)),
		}
	}

	return task.Verdict{Task: t, Kind: kind}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
