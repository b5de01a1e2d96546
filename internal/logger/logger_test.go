package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"dev", "prod", ""} {
		l, err := New(mode, "")
		require.NoError(t, err, mode)
		l.With("component", "test").Info("hello", "k", 1)
	}
}

func TestNewLevel(t *testing.T) {
	l, err := New("prod", "warn")
	require.NoError(t, err)
	assert.False(t, l.SugaredLogger.Desugar().Core().Enabled(zapcore.DebugLevel))

	_, err = New("dev", "loud")
	assert.Error(t, err)
}

func TestOr(t *testing.T) {
	assert.NotNil(t, Or(nil))
	l := Nop()
	assert.Same(t, l, Or(l))
}
