// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the level-triggered readiness poller driven by
// stage event loops, with an epoll(7) implementation and a wake primitive
// that lets other goroutines interrupt a blocked wait.
package reactor
