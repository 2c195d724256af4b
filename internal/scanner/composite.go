package scanner

import (
	"context"

	"github.com/shuttlehq/shuttle/internal/task"
)

// CompositeScanner composes zero or more enabled Scanners as logical
// AND for "clean": Clean requires every member to return Clean; any
// Suspect makes the whole verdict Suspect; any Failed makes it Failed;
// NotFound from a member marked handlerManaged is folded into Suspect
// with HandlerManaged set, matching a scanner that manages its own
// suspect-file quarantine and simply reports the file gone.
type CompositeScanner struct {
	members []member
}

type member struct {
	Scanner
	handlerManaged bool
}

// NewCompositeScanner builds an empty composite; enabled scanners are
// registered with Add.
func NewCompositeScanner() *CompositeScanner {
	return &CompositeScanner{}
}

// Add registers a scanner as a member of the composite. Pass
// handlerManaged=true for a scanner whose own agent already moves or
// deletes suspect files out from under Shuttle.
func (c *CompositeScanner) Add(s Scanner, handlerManaged bool) {
	c.members = append(c.members, member{Scanner: s, handlerManaged: handlerManaged})
}

// Members exposes the underlying scanners, for the Scanner Guard to
// query each one's version independently of the composite's own
// Scan/Version behavior.
func (c *CompositeScanner) Members() []Scanner {
	out := make([]Scanner, len(c.members))
	for i, m := range c.members {
		out[i] = m.Scanner
	}
	return out
}

func (c *CompositeScanner) Name() string { return "composite" }

func (c *CompositeScanner) Scan(ctx context.Context, t task.FileTask) task.Verdict {
	if len(c.members) == 0 {
		return task.Verdict{Task: t, Kind: task.VerdictFailed, Err: errNoScanners}
	}

	result := task.Verdict{Task: t, Kind: task.VerdictClean}

	for _, m := range c.members {
		v := m.Scan(ctx, t)

		switch v.Kind {
		case task.VerdictNotFound:
			if m.handlerManaged {
				v.Kind = task.VerdictSuspect
				v.HandlerManaged = true
			}
		}

		switch v.Kind {
		case task.VerdictClean:
			// Only raises the bar if a stronger verdict hasn't already
			// been recorded by an earlier member.
			if result.Kind == task.VerdictClean {
				result = v
			}
		case task.VerdictSuspect:
			return v
		case task.VerdictFailed, task.VerdictTimeout:
			return v
		case task.VerdictNotFound:
			return v
		}
	}

	return result
}

func (c *CompositeScanner) Version(ctx context.Context) (string, error) {
	if len(c.members) == 0 {
		return "", errNoScanners
	}
	return c.members[0].Version(ctx)
}

var errNoScanners = compositeErr("composite scanner: no member scanners configured")

type compositeErr string

func (e compositeErr) Error() string { return string(e) }
