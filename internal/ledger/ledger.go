// Package ledger reads the scanner attestation ledger maintained by an
// external attestation tool and answers the single question the
// Scanner Guard needs at startup: has this exact scanner version
// passed attestation?
package ledger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Result is the outcome recorded for an attestation run.
type Result string

const (
	ResultPass Result = "pass"
	ResultFail Result = "fail"
)

// Entry is one attestation record.
type Entry struct {
	Scanner  string    `yaml:"scanner"`
	Version  string    `yaml:"version"`
	TestedAt time.Time `yaml:"tested_at"`
	Result   Result    `yaml:"result"`
	Notes    string    `yaml:"notes,omitempty"`
}

// Ledger is a read-only, in-memory view of the attestation file. It is
// loaded once at startup; the external attestation tool owns all
// writes, so Shuttle never mutates it.
type Ledger struct {
	entries []Entry
}

// Load parses path, a YAML ledger file of `---`-separated documents
// (one Entry per attestation run). A document that fails to parse is
// skipped rather than treated as fatal: the external attestation tool
// may be mid-append when Shuttle starts, and a torn final document
// must not deny every scanner version that came before it.
func Load(path string) (*Ledger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}

	var entries []Entry
	for _, doc := range strings.Split("\n"+string(data), "\n---\n") {
		// Each document is decoded on its own, so a malformed one is
		// skipped without stopping the documents after it.
		var e Entry
		if strings.TrimSpace(doc) == "" || yaml.Unmarshal([]byte(doc), &e) != nil {
			continue
		}
		entries = append(entries, e)
	}

	return &Ledger{entries: entries}, nil
}

// IsAttested reports whether scanner/version has a pass record. When
// multiple entries exist for the same scanner+version, the most
// recent by TestedAt wins (a later fail can revoke an earlier pass,
// and vice versa — the ledger is the attestation tool's append log,
// not a monotonic allowlist).
func (l *Ledger) IsAttested(scanner, version string) bool {
	var latest *Entry
	for i := range l.entries {
		e := &l.entries[i]
		if !strings.EqualFold(e.Scanner, scanner) || e.Version != version {
			continue
		}
		if latest == nil || e.TestedAt.After(latest.TestedAt) {
			latest = e
		}
	}
	return latest != nil && latest.Result == ResultPass
}

// Entries returns a copy of the loaded entries, for reporting/debugging.
func (l *Ledger) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}
