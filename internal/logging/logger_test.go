package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Debug("development logger emits debug")
}

func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	require.NoError(t, err)
	require.NotNil(t, logger)
	// Production config filters debug; this must not panic.
	logger.Debug("suppressed")
	logger.Info("production logger emits info")
}

func TestInitReplacesSharedLogger(t *testing.T) {
	logger, err := Init(true)
	require.NoError(t, err)
	require.Same(t, logger, L)
}
