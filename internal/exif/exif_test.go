package exif

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"photokeep/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("not a real jpeg"), 0o644))
	return path
}

func TestExtractFallsBackToFileTimes(t *testing.T) {
	path := writeFile(t, t.TempDir(), "plain.jpg")
	info, err := os.Stat(path)
	require.NoError(t, err)

	// Real goexif decode fails on this payload; the stat-based fallback wins.
	data, err := NewExtractor().Extract(path)
	require.NoError(t, err)
	assert.WithinDuration(t, info.ModTime(), data.DateTaken, time.Second)
	assert.Equal(t, info.Size(), data.FileSize)
	assert.Empty(t, data.CameraMake)
}

func TestExtractMissingFile(t *testing.T) {
	_, err := NewExtractor().Extract(filepath.Join(t.TempDir(), "nope.jpg"))
	assert.Error(t, err)
}

func TestExtractUsesDecodedFields(t *testing.T) {
	path := writeFile(t, t.TempDir(), "tagged.jpg")
	taken := time.Date(2021, 6, 15, 12, 0, 0, 0, time.UTC)

	e := NewExtractorWith(func(_ string, data *models.ExifData) error {
		data.DateTaken = taken
		data.CameraMake = "Canon"
		data.Width = 4000
		data.Height = 3000
		return nil
	})

	data, err := e.Extract(path)
	require.NoError(t, err)
	assert.Equal(t, taken, data.DateTaken)
	assert.Equal(t, "Canon", data.CameraMake)
	assert.Equal(t, 4000, data.Width)
}

func TestExtractDecodeErrorIsNotFatal(t *testing.T) {
	path := writeFile(t, t.TempDir(), "broken.jpg")
	e := NewExtractorWith(func(string, *models.ExifData) error {
		return errors.New("corrupt exif block")
	})

	data, err := e.Extract(path)
	require.NoError(t, err)
	assert.False(t, data.DateTaken.IsZero())
}

func TestConcurrentExtractsShareOneDecode(t *testing.T) {
	path := writeFile(t, t.TempDir(), "shared.jpg")

	var calls atomic.Int32
	release := make(chan struct{})
	e := NewExtractorWith(func(_ string, data *models.ExifData) error {
		calls.Add(1)
		<-release
		data.CameraMake = "Nikon"
		return nil
	})

	const n = 8
	results := make([]*models.ExifData, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, err := e.Extract(path)
			assert.NoError(t, err)
			results[i] = data
		}(i)
	}

	// Let the callers pile up on the in-flight extraction before it finishes.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, data := range results {
		require.NotNil(t, data)
		assert.Equal(t, "Nikon", data.CameraMake)
	}
}

func TestDistinctPathsDecodeSeparately(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.jpg")
	b := writeFile(t, dir, "b.jpg")

	var calls atomic.Int32
	e := NewExtractorWith(func(string, *models.ExifData) error {
		calls.Add(1)
		return nil
	})

	_, err := e.Extract(a)
	require.NoError(t, err)
	_, err = e.Extract(b)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}
