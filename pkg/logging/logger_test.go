package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLogger(t *testing.T) {
	dev, err := NewLogger(true)
	require.NoError(t, err)
	assert.True(t, dev.Core().Enabled(zap.DebugLevel))

	prod, err := NewLogger(false)
	require.NoError(t, err)
	assert.False(t, prod.Core().Enabled(zap.DebugLevel))
	assert.True(t, prod.Core().Enabled(zap.InfoLevel))
}
