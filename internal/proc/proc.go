// Package proc probes and signals local processes by PID. The lock file
// and the watcher PID file both use it to tell live holders from stale
// files.
package proc

import "os"

// Self returns the PID of the current process
func Self() int {
	return os.Getpid()
}
