// File: internal/credentials/hasher.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package credentials

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/momentics/hioload-chat/api"
)

// Hasher names accepted by NewHasher.
const (
	HashPlain  = "plain"
	HashBcrypt = "bcrypt"
)

// PlainHasher stores passwords as-is.
type PlainHasher struct{}

func (PlainHasher) Hash(password string) (string, error) { return password, nil }

func (PlainHasher) Compare(secret, password string) bool {
	return subtle.ConstantTimeCompare([]byte(secret), []byte(password)) == 1
}

// BcryptHasher stores bcrypt hashes. A zero Cost means bcrypt.DefaultCost.
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(b), nil
}

func (BcryptHasher) Compare(secret, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(secret), []byte(password)) == nil
}

// NewHasher returns the hasher registered under name.
func NewHasher(name string) (api.PasswordHasher, error) {
	switch name {
	case "", HashPlain:
		return PlainHasher{}, nil
	case HashBcrypt:
		return BcryptHasher{}, nil
	}
	return nil, fmt.Errorf("password hashing %q: %w", name, api.ErrNotSupported)
}
