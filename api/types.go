// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations, DTOs, and constants.

package api

import "time"

// ConnState enumerates the lifecycle of a chat connection.
type ConnState int32

const (
	ConnHandshaking ConnState = iota
	ConnOpen
	ConnClosing
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnHandshaking:
		return "handshaking"
	case ConnOpen:
		return "open"
	case ConnClosing:
		return "closing"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StageStats is the per-stage snapshot exposed through debug probes.
type StageStats struct {
	Name        string `json:"name"`
	Connections int    `json:"connections"`
	Accepted    int64  `json:"accepted"`
	Closed      int64  `json:"closed"`
	BytesIn     int64  `json:"bytes_in"`
	BytesOut    int64  `json:"bytes_out"`
	Messages    int64  `json:"messages"`
	Changes     int64  `json:"changes_applied"`
}

// SessionInfo describes an authenticated connection.
type SessionInfo struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	ConnID    uint64    `json:"conn_id"`
	Stage     string    `json:"stage"`
	CreatedAt time.Time `json:"created_at"`
}

// ServiceInfo exposes descriptive runtime info for external tools.
type ServiceInfo struct {
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
}
