// File: internal/credentials/seed.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/momentics/hioload-chat/api"
)

// DefaultSeed is the account every fresh deployment starts with.
var DefaultSeed = map[string]string{"admin": "password"}

// Seed registers users (name to plain password) that do not exist yet.
// It returns how many were added.
func Seed(ctx context.Context, store api.CredentialStore, hasher api.PasswordHasher, users map[string]string) (int, error) {
	added := 0
	for name, password := range users {
		if _, ok, err := store.Lookup(ctx, name); err != nil {
			return added, fmt.Errorf("seed %s: %w", name, err)
		} else if ok {
			continue
		}
		secret, err := hasher.Hash(password)
		if err != nil {
			return added, fmt.Errorf("seed %s: %w", name, err)
		}
		err = store.Store(ctx, api.User{Username: name, Secret: secret})
		switch {
		case errors.Is(err, api.ErrAlreadyExists):
		case err != nil:
			return added, fmt.Errorf("seed %s: %w", name, err)
		default:
			added++
		}
	}
	return added, nil
}
