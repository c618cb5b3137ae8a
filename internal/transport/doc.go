// File: internal/transport/doc.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-blocking TCP sockets driven directly by stage pollers. The listener
// and connections expose their descriptors so event loops can register them;
// Read and Write never block and report api.ErrWouldBlock instead.

package transport
