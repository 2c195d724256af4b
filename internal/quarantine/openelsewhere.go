package quarantine

import (
	"os"

	"golang.org/x/sys/unix"
)

// openElsewhere makes a best-effort, non-blocking check for whether
// another process currently holds an exclusive interest in path, by
// attempting a non-blocking advisory lock and treating "would block"
// as "in use". This only detects cooperating writers that also take
// an advisory lock; it is a heuristic, not a guarantee, matching the
// spec's "detectable via OS query" phrasing rather than a hard
// mandatory-locking requirement.
func openElsewhere(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		return err == unix.EWOULDBLOCK
	}
	unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return false
}
