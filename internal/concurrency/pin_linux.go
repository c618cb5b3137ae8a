//go:build linux
// +build linux

// hioload-chat/internal/concurrency/pin_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux-specific loop thread pinning via sched_setaffinity(2).

package concurrency

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// PinCurrentThread locks the calling goroutine to its OS thread and, for a
// non-negative cpuID, restricts that thread to cpuID modulo the CPU count.
func PinCurrentThread(cpuID int) error {
	runtime.LockOSThread()
	if cpuID < 0 {
		return nil
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID % runtime.NumCPU())
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity cpu %d: %w", cpuID, err)
	}
	return nil
}
