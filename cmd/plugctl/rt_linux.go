//go:build linux

package main

import (
	"log"
	"runtime"

	"golang.org/x/sys/unix"
)

// lockTiming reduces scheduling jitter during bit-banged transfers. The
// bus has no minimum clock rate, so failures here cost throughput, not
// correctness.
func lockTiming() {
	runtime.LockOSThread()
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		log.Printf("mlockall: %v", err)
	}
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, -20); err != nil {
		log.Printf("setpriority: %v", err)
	}
}
