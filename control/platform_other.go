//go:build !linux

// control/platform_other.go
// Author: momentics <momentics@gmail.com>

package control

import "runtime"

// RegisterPlatformProbes sets the portable debug probes.
func RegisterPlatformProbes(dp *DebugProbes) {
	registerRuntimeProbes(dp)
	dp.RegisterProbe("platform.os", func() any { return runtime.GOOS })
}
