// File: api/credentials.go
// Author: momentics <momentics@gmail.com>
//
// Credential storage contract consumed by the reception stage.

package api

import "context"

// User is one registered account. Secret is the hasher's output, never the
// plain password.
type User struct {
	Username  string `json:"username"`
	Secret    string `json:"-"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// CredentialStore is a lookup table keyed by username.
type CredentialStore interface {
	// Lookup returns the stored secret. ok is false for unknown users.
	Lookup(ctx context.Context, username string) (secret string, ok bool, err error)

	// Store saves a new user. It returns ErrAlreadyExists for a taken name.
	Store(ctx context.Context, u User) error

	Close() error
}

// PasswordHasher turns passwords into stored secrets and checks them.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(secret, password string) bool
}
