// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives for stage pipelines: the change-request mailbox
// drained by event loops, the keyed worker pool that preserves per-connection
// ordering, and loop thread pinning.
package concurrency
