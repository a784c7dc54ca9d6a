package cs104

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	bad := Config{ConnectTimeout0: 500 * time.Millisecond}
	_, err := NewServer("127.0.0.1:0", bad, newFakeStation())
	assert.Error(t, err)
}

func TestNewServerAcceptsZeroConfigAndFillsDefaults(t *testing.T) {
	s, err := NewServer("127.0.0.1:0", Config{}, newFakeStation())
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), s.cfg)
}
