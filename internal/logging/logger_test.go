package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewDefaultsOutputToStdout(t *testing.T) {
	logger, err := New(Config{Level: "info"})
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info("configured")
	_ = logger.Sync()
}

func TestComponentNamesChildLogger(t *testing.T) {
	logger := NewNop()
	child := logger.Component("pipeline")
	require.NotNil(t, child)
	assert.NotSame(t, logger, child)
}
