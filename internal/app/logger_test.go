package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigureLogging(t *testing.T) {
	require.NoError(t, ConfigureLogging("debug"))
	require.NoError(t, ConfigureLogging(""))

	// Unknown levels fall back to info instead of failing startup.
	require.NoError(t, ConfigureLogging("shouting"))
}
