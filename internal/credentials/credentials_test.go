package credentials_test

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/momentics/hioload-chat/api"
	"github.com/momentics/hioload-chat/internal/credentials"
)

// exerciseStore checks the contract every backend honours.
func exerciseStore(t *testing.T, store api.CredentialStore) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := store.Lookup(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Store(ctx, api.User{Username: "alice", Secret: "s1", FirstName: "Alice", LastName: "A"}))
	secret, ok, err := store.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "s1", secret)

	err = store.Store(ctx, api.User{Username: "alice", Secret: "s2"})
	assert.ErrorIs(t, err, api.ErrAlreadyExists)
	secret, _, _ = store.Lookup(ctx, "alice")
	assert.Equal(t, "s1", secret, "a rejected sign-up must not overwrite")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if store.Store(ctx, api.User{Username: "race", Secret: "x"}) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, credentials.NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "users.db")
	store, err := credentials.OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	exerciseStore(t, store)

	u, err := store.Profile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.FirstName)
	_, err = store.Profile(ctx, "nobody")
	assert.ErrorIs(t, err, api.ErrNotFound)
	require.NoError(t, store.Close())

	reopened, err := credentials.OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	defer reopened.Close()
	_, ok, err := reopened.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok, "users survive a restart")
}

func TestHashers(t *testing.T) {
	cases := []struct {
		name   string
		hasher api.PasswordHasher
	}{
		{credentials.HashPlain, credentials.PlainHasher{}},
		{credentials.HashBcrypt, credentials.BcryptHasher{Cost: bcrypt.MinCost}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			secret, err := tc.hasher.Hash("password")
			require.NoError(t, err)
			assert.True(t, tc.hasher.Compare(secret, "password"))
			assert.False(t, tc.hasher.Compare(secret, "Password"))
			assert.False(t, tc.hasher.Compare(secret, ""))
		})
	}

	secret, err := credentials.BcryptHasher{Cost: bcrypt.MinCost}.Hash("password")
	require.NoError(t, err)
	assert.NotEqual(t, "password", secret)
}

func TestNewHasher(t *testing.T) {
	h, err := credentials.NewHasher("")
	require.NoError(t, err)
	assert.IsType(t, credentials.PlainHasher{}, h)

	h, err = credentials.NewHasher(credentials.HashBcrypt)
	require.NoError(t, err)
	assert.IsType(t, credentials.BcryptHasher{}, h)

	_, err = credentials.NewHasher("md5")
	assert.ErrorIs(t, err, api.ErrNotSupported)
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	store := credentials.NewMemoryStore()
	hasher := credentials.PlainHasher{}

	n, err := credentials.Seed(ctx, store, hasher, credentials.DefaultSeed)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	secret, ok, err := store.Lookup(ctx, "admin")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, hasher.Compare(secret, "password"))

	n, err = credentials.Seed(ctx, store, hasher, credentials.DefaultSeed)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, store.Len())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	store, err := credentials.Open(ctx, credentials.BackendMemory, "", nil)
	require.NoError(t, err)
	assert.IsType(t, &credentials.MemoryStore{}, store)

	store, err = credentials.Open(ctx, credentials.BackendSQLite, ":memory:", nil)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = credentials.Open(ctx, "etcd", "", nil)
	assert.ErrorIs(t, err, api.ErrNotSupported)
}
