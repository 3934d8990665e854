package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBuildsLoggerAtRequestedLevel(t *testing.T) {
	log, err := New(ComponentWorker, "debug", false)
	require.NoError(t, err)
	require.NotNil(t, log)
}

func TestNewFallsBackToInfoOnBadLevel(t *testing.T) {
	log, err := New(ComponentCzar, "not-a-level", false)
	require.NoError(t, err)
	require.NotNil(t, log)
}

func TestNewNopDoesNotPanic(t *testing.T) {
	log := NewNop()
	assert.NotPanics(t, func() { log.Infow("hello", "x", 1) })
}

func TestWithHelpersDeriveLoggers(t *testing.T) {
	base := NewNop()
	assert.NotNil(t, WithChunk(base, 7))
	assert.NotNil(t, WithJob(base, "job-1"))
	assert.NotNil(t, WithSession(base, 99))
}
