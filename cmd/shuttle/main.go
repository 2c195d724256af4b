// Shuttle quarantines, scans, and delivers files from an inbound
// source tree, archiving suspect files to an encrypted hazard store.
//
// Usage:
//
//	shuttle run --config /etc/shuttle/config.yaml
package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func main() {
	// Every file the process creates gets group rw and no world access.
	unix.Umask(0o007)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
