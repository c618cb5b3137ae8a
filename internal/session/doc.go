// Package session
// Author: momentics <momentics@gmail.com>
//
// Sessions of authenticated connections. A session is created on a
// successful login, carries small per-session attributes such as the room
// the user is in, and is cancelled when its connection closes.
//
// The store is sharded by username hash so logins of different users
// never contend on one lock.

package session
