package kvcache

import (
	"context"
	"testing"
	"time"

	"photokeep/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanMarkerKeyStableAndCaseInsensitive(t *testing.T) {
	a := ScanMarkerKey("/Photos/Vacation")
	b := ScanMarkerKey("/photos/vacation")
	c := ScanMarkerKey("  /photos/vacation  ")
	assert.Equal(t, a, b)
	assert.Equal(t, a, c)
	assert.NotEqual(t, a, ScanMarkerKey("/photos/other"))
	assert.Contains(t, a, "scan:")
}

func TestNewWithoutRedisIsMemory(t *testing.T) {
	s := New(config.Redis{Enabled: false})
	_, ok := s.(*Memory)
	assert.True(t, ok)
}

func TestMemoryBytesRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, found, err := m.GetBytes(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, m.SetBytes(ctx, "k", []byte("value"), 0))
	got, found, err := m.GetBytes(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("value"), got)

	require.NoError(t, m.Delete(ctx, "k"))
	_, found, err = m.GetBytes(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryGetBytesReturnsACopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.SetBytes(ctx, "k", []byte("value"), 0))

	got, _, err := m.GetBytes(ctx, "k")
	require.NoError(t, err)
	got[0] = 'X'

	again, _, err := m.GetBytes(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), again)
}

func TestMemoryTimeRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, found, err := m.GetTime(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	now := time.Now()
	require.NoError(t, m.SetTime(ctx, "k", now))
	got, found, err := m.GetTime(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, got.Equal(now))
}

func TestMemoryTimeRejectsGarbage(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.SetBytes(ctx, "k", []byte("not a time"), 0))

	_, found, err := m.GetTime(ctx, "k")
	assert.Error(t, err)
	assert.False(t, found)
}
