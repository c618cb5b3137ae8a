//go:build !linux
// +build !linux

// hioload-chat/internal/concurrency/pin.go
// Author: momentics <momentics@gmail.com>
//
// Loop thread pinning for platforms without sched_setaffinity.

package concurrency

import "runtime"

// PinCurrentThread locks the calling goroutine to its OS thread. CPU
// affinity is unavailable here, so a non-negative cpuID reports
// ErrAffinityNotSupported after locking.
func PinCurrentThread(cpuID int) error {
	runtime.LockOSThread()
	if cpuID >= 0 {
		return ErrAffinityNotSupported
	}
	return nil
}
