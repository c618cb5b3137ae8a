package session_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-chat/internal/session"
)

func TestCreateGetRemove(t *testing.T) {
	st := session.NewStore(3)
	s := st.Create("admin", 7, "lobby")

	_, err := uuid.Parse(s.ID())
	require.NoError(t, err)
	assert.Equal(t, "admin", s.Username())
	assert.EqualValues(t, 7, s.ConnID())
	assert.Equal(t, "lobby", s.Stage())

	got, ok := st.Get("admin", s.ID())
	require.True(t, ok)
	assert.Same(t, s, got)
	_, ok = st.Get("other", s.ID())
	assert.False(t, ok)

	assert.True(t, st.Remove("admin", s.ID()))
	assert.False(t, st.Remove("admin", s.ID()))
	select {
	case <-s.Done():
	default:
		t.Fatal("removed session not cancelled")
	}
	assert.Zero(t, st.Len())
}

func TestSameUserSeveralConnections(t *testing.T) {
	st := session.NewStore(0)
	a := st.Create("bob", 1, "lobby")
	b := st.Create("bob", 2, "room:x")
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Len(t, st.ByUser("bob"), 2)

	st.Remove("bob", a.ID())
	left := st.ByUser("bob")
	require.Len(t, left, 1)
	assert.Same(t, b, left[0])
}

func TestConcurrentCreate(t *testing.T) {
	st := session.NewStore(4)
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := st.Create(fmt.Sprintf("user%d", i%8), uint64(i), "lobby")
			s.SetStage("room")
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 64, st.Len())

	snap := st.Snapshot()
	require.Len(t, snap, 64)
	for i := 1; i < len(snap); i++ {
		assert.False(t, snap[i].CreatedAt.Before(snap[i-1].CreatedAt))
		assert.Equal(t, "room", snap[i].Stage)
	}
}

func TestAttrs(t *testing.T) {
	s := session.NewStore(1).Create("carol", 3, "lobby")
	a := s.Attrs()
	a.Set(session.AttrRoom, "general")
	a.Set("k", "v")

	v, ok := a.Get(session.AttrRoom)
	require.True(t, ok)
	assert.Equal(t, "general", v)
	assert.Equal(t, []string{"k", session.AttrRoom}, a.Keys())

	a.Expire("k", time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	_, ok = a.Get("k")
	assert.False(t, ok)

	a.Delete(session.AttrRoom)
	assert.Empty(t, a.Snapshot())
}
