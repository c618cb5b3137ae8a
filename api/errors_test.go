package api_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/momentics/hioload-chat/api"
)

func TestStructuredError(t *testing.T) {
	err := api.Wrap(api.ErrCodeNotFound, "room lookup", api.ErrNotFound).WithContext("room", "lobby1")
	assert.True(t, errors.Is(err, api.ErrNotFound))
	assert.Equal(t, api.ErrCodeNotFound, api.CodeOf(err))
	assert.Contains(t, err.Error(), "room lookup: resource not found")
	assert.Contains(t, err.Error(), "lobby1")
}

func TestCodeOfSentinels(t *testing.T) {
	assert.Equal(t, api.ErrCodeOK, api.CodeOf(nil))
	assert.Equal(t, api.ErrCodeAlreadyExists, api.CodeOf(fmt.Errorf("store: %w", api.ErrAlreadyExists)))
	assert.Equal(t, api.ErrCodeInternal, api.CodeOf(errors.New("boom")))
	assert.Equal(t, "not_found", api.ErrCodeNotFound.String())
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "handshaking", api.ConnHandshaking.String())
	assert.Equal(t, "closed", api.ConnClosed.String())
	assert.Equal(t, "unknown", api.ConnState(42).String())
}
