package throttle

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// mountPoint walks path's ancestors until it finds the directory
// where the device id (st_dev) changes from its parent's, i.e. the
// nearest enclosing mount point.
func mountPoint(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("throttle: abs %s: %w", path, err)
	}

	var st unix.Stat_t
	if err := unix.Stat(abs, &st); err != nil {
		return "", fmt.Errorf("throttle: stat %s: %w", abs, err)
	}
	dev := st.Dev

	dir := abs
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir, nil
		}

		var pst unix.Stat_t
		if err := unix.Stat(parent, &pst); err != nil {
			// Can't see above dir (e.g. permission denied crossing a
			// chroot-like boundary): treat dir as the mount point.
			return dir, nil
		}
		if pst.Dev != dev {
			return dir, nil
		}
		dir = parent
	}
}

// freeBytes returns the free space available to an unprivileged
// process at the filesystem mounted under dir.
func freeBytes(dir string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, fmt.Errorf("throttle: statfs %s: %w", dir, err)
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}

// ensureDir confirms dir exists so mountPoint/freeBytes have something
// to stat; callers pass already-validated config paths, but a race
// between config validation and first use is possible.
func ensureDir(dir string) error {
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("throttle: %w", err)
	}
	return nil
}
