// Package credentials
// Author: momentics <momentics@gmail.com>
//
// Credential store backends (memory, SQLite, Redis) and password hashers.
// Stores only ever see hashed secrets; comparing a login attempt is the
// hasher's job.

package credentials
