package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-chat/api"
	"github.com/momentics/hioload-chat/fake"
	"github.com/momentics/hioload-chat/internal/credentials"
)

const waitFor = 2 * time.Second

type harness struct {
	net  *fake.Network
	ln   *fake.Listener
	srv  *Server
	lvl  *slog.LevelVar
	done chan error
	stop context.CancelFunc
}

func startServer(t *testing.T, cfg *Config, opts ...ServerOption) *harness {
	t.Helper()
	h := &harness{net: fake.NewNetwork(), lvl: new(slog.LevelVar), done: make(chan error, 1)}
	h.ln = h.net.NewListener("fake:8080")
	opts = append([]ServerOption{
		WithListener(h.ln),
		WithPollerFactory(h.net.NewPoller),
		WithLevelVar(h.lvl),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: h.lvl}))),
	}, opts...)

	var err error
	h.srv, err = New(cfg, opts...)
	require.NoError(t, err)

	var ctx context.Context
	ctx, h.stop = context.WithCancel(context.Background())
	go func() { h.done <- h.srv.Run(ctx) }()
	require.Eventually(t, func() bool { return !h.srv.Info().StartedAt.IsZero() }, waitFor, 5*time.Millisecond)
	t.Cleanup(func() {
		h.stop()
		select {
		case err := <-h.done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return h
}

func adminConfig() *Config {
	cfg := DefaultConfig()
	cfg.AdminAddr = "127.0.0.1:0"
	cfg.Workers = 2
	return cfg
}

func (h *harness) login(t *testing.T, user, password string) *fake.Conn {
	t.Helper()
	peer := h.net.Dial(h.ln, "client")
	peer.Feed(fake.UpgradeRequest())
	peer.Feed(fake.ClientText("CMD=LOG_IN;UNAME=" + user + ";PSSWRD=" + password))
	require.Eventually(t, func() bool {
		_, rest := fake.SplitHandshake(peer.Output())
		return len(fake.Messages(rest)) >= 2
	}, waitFor, 5*time.Millisecond)
	_, rest := fake.SplitHandshake(peer.Output())
	require.Equal(t, []string{"UNAME=true;PSSWRD=true", "ERRORED=false;STAGE=LOBBY"}, fake.Messages(rest))
	return peer
}

func getJSON(t *testing.T, url string, into any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	if into != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
	}
	return resp.StatusCode
}

func TestAdminEndpoints(t *testing.T) {
	h := startServer(t, adminConfig())
	base := "http://" + h.srv.AdminAddr()

	var health struct {
		Status  string          `json:"status"`
		Service api.ServiceInfo `json:"service"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, base+"/healthz", &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, Name, health.Service.Name)

	peer := h.login(t, "admin", "password")
	peer.Feed(fake.ClientText("CMD=CRT_CHT;CHAT_NAME=ops"))
	require.Eventually(t, func() bool { return h.srv.Service().Rooms().Len() == 1 }, waitFor, 5*time.Millisecond)

	var rooms []struct {
		Name    string   `json:"name"`
		Members []string `json:"members"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, base+"/rooms", &rooms))
	require.Len(t, rooms, 1)
	assert.Equal(t, "ops", rooms[0].Name)
	assert.Empty(t, rooms[0].Members)

	var sessions []api.SessionInfo
	assert.Equal(t, http.StatusOK, getJSON(t, base+"/sessions", &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "admin", sessions[0].Username)
	assert.Equal(t, "lobby", sessions[0].Stage)

	var state map[string]json.RawMessage
	assert.Equal(t, http.StatusOK, getJSON(t, base+"/debug/state", &state))
	for _, key := range []string{"service", "stages", "rooms", "sessions", "metrics", "config", "platform.cpus"} {
		assert.Contains(t, state, key)
	}

	var stages []api.StageStats
	assert.Equal(t, http.StatusOK, getJSON(t, base+"/debug/state/stages", &stages))
	require.GreaterOrEqual(t, len(stages), 3)
	assert.Equal(t, "reception", stages[0].Name)
	assert.Equal(t, int64(1), stages[0].Accepted)

	assert.Equal(t, http.StatusNotFound, getJSON(t, base+"/debug/state/nope", nil))
}

func TestMetricsCollected(t *testing.T) {
	h := startServer(t, adminConfig())
	h.login(t, "admin", "password")
	require.Eventually(t, func() bool {
		snap := h.srv.Metrics().GetSnapshot()
		return snap["sessions"] == 1 && snap["stage.lobby.connections"] == 1
	}, 3*time.Second, 20*time.Millisecond)
}

func TestReloadAppliesLevelAndIdleTimeout(t *testing.T) {
	h := startServer(t, adminConfig())
	assert.Equal(t, slog.LevelInfo, h.lvl.Level())

	changed := h.srv.Control().SetConfig(map[string]any{
		KeyLogLevel:    "debug",
		KeyIdleTimeout: 50 * time.Millisecond,
	})
	assert.Equal(t, []string{KeyIdleTimeout, KeyLogLevel}, changed)
	assert.Equal(t, slog.LevelDebug, h.lvl.Level())
	assert.Equal(t, int64(1), h.srv.Metrics().GetSnapshot()["config.reloads"])

	// The new idle timeout closes a connection that never talks.
	peer := h.net.Dial(h.ln, "idler")
	peer.Feed(fake.UpgradeRequest())
	require.Eventually(t, peer.Closed, waitFor, 5*time.Millisecond)

	// An invalid level is ignored.
	h.srv.Control().SetConfig(map[string]any{KeyLogLevel: "loud"})
	assert.Equal(t, slog.LevelDebug, h.lvl.Level())
}

func TestReloadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: info\n"), 0o600))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	h := startServer(t, cfg, WithConfigFile(path))
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("log_level: warn\nidle_timeout: 1m\n"), 0o600)
		return h.lvl.Level() == slog.LevelWarn
	}, 5*time.Second, 50*time.Millisecond)
	v, _ := h.srv.Control().Get(KeyIdleTimeout)
	assert.Equal(t, time.Minute, v)
}

func TestInjectedCredentialStore(t *testing.T) {
	store := credentials.NewMemoryStore()
	cfg := DefaultConfig()
	cfg.Credentials.Seed = map[string]string{"dave": "hunter2"}
	h := startServer(t, cfg, WithCredentialStore(store), WithHasher(credentials.PlainHasher{}))
	assert.Equal(t, 1, store.Len())
	h.login(t, "dave", "hunter2")

	h.stop()
	require.NoError(t, <-h.done)
	h.done <- nil
	// The caller keeps ownership of an injected store.
	_, ok, err := store.Lookup(context.Background(), "dave")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunTwice(t *testing.T) {
	h := startServer(t, DefaultConfig())
	err := h.srv.Run(context.Background())
	assert.True(t, errors.Is(err, ErrAlreadyRunning))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Credentials.Backend = "ldap"
	_, err := New(cfg, WithListener(fake.NewNetwork().NewListener("x")))
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	assert.True(t, strings.Contains(err.Error(), "ldap"))
}
