// control/platform.go
// Author: momentics <momentics@gmail.com>

package control

import "runtime"

func registerRuntimeProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any { return runtime.NumCPU() })
	dp.RegisterProbe("platform.goroutines", func() any { return runtime.NumGoroutine() })
}
