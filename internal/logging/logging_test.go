package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { _ = SetLevel("info") })

	require.NoError(t, SetLevel("DEBUG"))
	assert.Equal(t, "debug", Level())

	require.NoError(t, SetLevel(""))
	assert.Equal(t, "info", Level())

	assert.Error(t, SetLevel("loud"))
	assert.Equal(t, "info", Level())
}

func TestDisableReturnsNop(t *testing.T) {
	require.NoError(t, Setup(Config{Level: "info", OutputPaths: []string{"stderr"}}))
	t.Cleanup(Enable)

	Disable()
	assert.False(t, L().Core().Enabled(0))

	Enable()
	assert.True(t, L().Core().Enabled(0))
}

func TestEncodingFormat(t *testing.T) {
	assert.Equal(t, "console", encodingFormat(true))
	assert.Equal(t, "json", encodingFormat(false))
}
