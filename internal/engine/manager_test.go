package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"photokeep/internal/cache"
	"photokeep/internal/container"
	"photokeep/internal/kvcache"
	"photokeep/internal/models"
	"photokeep/internal/rules"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, e *env, markers kvcache.Store) *Manager {
	t.Helper()
	if markers == nil {
		markers = kvcache.NewMemory()
	}
	m := NewManager(e.ops, e.rulesSvc, markers, 10*time.Millisecond)
	t.Cleanup(func() { m.Close() })
	return m
}

func seedAlways(t *testing.T, e *env, paths ...string) {
	t.Helper()
	for _, path := range paths {
		require.NoError(t, e.rulesSvc.SetRule(path, models.RuleAlways))
	}
}

func TestStartPopulatesCaches(t *testing.T) {
	e := newEnv(t)
	dir := t.TempDir()
	writeImage(t, dir, "a.jpg")
	writeImage(t, dir, "b.jpg")
	seedAlways(t, e, dir)

	m := newManager(t, e, nil)
	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, StateRunning, m.State())

	assert.Equal(t, 1, m.Containers().Len())
	assert.Equal(t, 2, m.Refs().Len())
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	e := newEnv(t)
	m := newManager(t, e, nil)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Start(ctx))
	assert.Equal(t, StateRunning, m.State())

	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
	assert.Equal(t, StateStopped, m.State())
}

func TestOnceRootScansOnlyOnFirstStart(t *testing.T) {
	e := newEnv(t)
	dir := t.TempDir()
	writeImage(t, dir, "a.jpg")
	require.NoError(t, e.rulesSvc.SetRule(dir, models.RuleOnce))

	markers := kvcache.NewMemory()
	m := newManager(t, e, markers)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	assert.Equal(t, 1, m.Refs().Len())
	require.NoError(t, m.Stop())

	// A file that appears after the one-time scan stays invisible.
	writeImage(t, dir, "late.jpg")
	require.NoError(t, m.Start(ctx))
	assert.Equal(t, 1, m.Refs().Len())
}

func TestWatcherEventReachesCaches(t *testing.T) {
	e := newEnv(t)
	dir := t.TempDir()
	seedAlways(t, e, dir)

	m := newManager(t, e, nil)
	require.NoError(t, m.Start(context.Background()))

	path := writeImage(t, dir, "live.jpg")
	require.Eventually(t, func() bool {
		img, err := e.images.GetByPath(path)
		return err == nil && img != nil && m.Refs().Len() == 1
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		return m.Refs().Len() == 0
	}, 5*time.Second, 50*time.Millisecond)
}

func TestUncoveredEventIsIgnored(t *testing.T) {
	e := newEnv(t)
	covered := t.TempDir()
	seedAlways(t, e, covered)

	m := newManager(t, e, nil)
	require.NoError(t, m.Start(context.Background()))

	// Rule set scoped to covered; a direct operation call for an outside
	// path still works, the event gate only filters watcher traffic.
	outside := t.TempDir()
	path := writeImage(t, outside, "out.jpg")
	assert.False(t, m.eventCovered(path))
	assert.True(t, m.eventCovered(filepath.Join(covered, "in.jpg")))
}

func TestCreateAlbumPublishesDelta(t *testing.T) {
	e := newEnv(t)
	m := newManager(t, e, nil)
	require.NoError(t, m.Start(context.Background()))

	sub := m.Containers().Connect(context.Background())

	key, err := m.CreateAlbum("holiday")
	require.NoError(t, err)

	select {
	case batch := <-sub:
		require.Len(t, batch, 1)
		assert.Equal(t, cache.KindAdd, batch[0].Kind)
		assert.Equal(t, key, batch[0].Key)
		assert.Equal(t, "holiday", batch[0].Value.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("no delta for created album")
	}

	require.NoError(t, m.DeleteAlbum(mustAlbumID(t, e, "holiday")))
	select {
	case batch := <-sub:
		require.Len(t, batch, 1)
		assert.Equal(t, cache.KindRemove, batch[0].Kind)
		assert.Equal(t, key, batch[0].Key)
	case <-time.After(2 * time.Second):
		t.Fatal("no delta for deleted album")
	}
}

func TestDeleteImageRepublishesAlbums(t *testing.T) {
	e := newEnv(t)
	dir := t.TempDir()
	path := writeImage(t, dir, "a.jpg")
	seedAlways(t, e, dir)

	m := newManager(t, e, nil)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))

	img, err := e.images.GetByPath(path)
	require.NoError(t, err)
	_, err = m.CreateAlbum("shared")
	require.NoError(t, err)
	albumID := mustAlbumID(t, e, "shared")
	skipped, err := m.AddImagesToAlbum(albumID, []uint{img.ID})
	require.NoError(t, err)
	assert.Empty(t, skipped)

	require.NoError(t, m.DeleteImage(path))

	_, ok := m.Refs().Get(RefKey(img.ID))
	assert.False(t, ok)
	albumContainer, ok := m.Containers().Get(container.AlbumKey(albumID))
	require.True(t, ok)
	assert.Empty(t, albumContainer.ImageRefs)
	folderContainer, ok := m.Containers().Get(container.FolderKey(img.FolderID))
	require.True(t, ok)
	assert.Empty(t, folderContainer.ImageRefs)
}

func TestResetRulesEvictsAndScans(t *testing.T) {
	e := newEnv(t)
	oldDir := t.TempDir()
	writeImage(t, oldDir, "old.jpg")
	newDir := t.TempDir()
	writeImage(t, newDir, "new.jpg")
	seedAlways(t, e, oldDir)

	m := newManager(t, e, nil)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	require.Equal(t, 1, m.Containers().Len())

	candidate := []models.FolderRule{{Path: rules.Normalize(newDir), Action: models.RuleAlways}}
	preview, err := m.PreviewResetRulesChanges(candidate)
	require.NoError(t, err)
	assert.Len(t, preview.ContainersToAdd, 1)
	assert.Len(t, preview.ContainersToRemove, 1)
	// Preview never mutates.
	assert.Equal(t, 1, m.Containers().Len())

	changes, err := m.ResetRules(ctx, candidate)
	require.NoError(t, err)
	assert.Len(t, changes.ImagesToRemove, 1)

	assert.Equal(t, 1, m.Containers().Len())
	assert.Equal(t, 1, m.Refs().Len())
	for _, c := range m.Containers().Snapshot() {
		assert.Equal(t, filepath.Base(newDir), c.Name)
		assert.Len(t, c.ImageRefs, 1)
	}

	// The old subtree is gone from the store too.
	folders, err := e.folders.GetAll()
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, rules.Normalize(newDir), folders[0].Path)
}

func TestManualScanPublishesEachRefOnce(t *testing.T) {
	e := newEnv(t)
	// No rules: the directory is not watched, so every delta on the ref
	// cache comes from the manual scan alone.
	dir := t.TempDir()

	m := newManager(t, e, nil)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))

	sub := m.Refs().Connect(ctx)
	writeImage(t, dir, "a.jpg")
	writeImage(t, dir, "b.jpg")
	require.NoError(t, m.ScanFolder(ctx, dir))

	changes := map[string][]cache.Kind{}
	deadline := time.After(2 * time.Second)
	for total := 0; total < 2; {
		select {
		case batch := <-sub:
			for _, change := range batch {
				changes[change.Key] = append(changes[change.Key], change.Kind)
				total++
			}
		case <-deadline:
			t.Fatalf("saw %d ref deltas, want 2", total)
		}
	}
	for key, kinds := range changes {
		assert.Equalf(t, []cache.Kind{cache.KindAdd}, kinds, "ref %s published more than once", key)
	}
}

func TestResetRulesDuringStop(t *testing.T) {
	e := newEnv(t)
	dir := t.TempDir()
	writeImage(t, dir, "a.jpg")
	seedAlways(t, e, dir)

	m := newManager(t, e, nil)
	ctx := context.Background()
	candidate := []models.FolderRule{{Path: rules.Normalize(dir), Action: models.RuleAlways}}

	for i := 0; i < 20; i++ {
		require.NoError(t, m.Start(ctx))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := m.ResetRules(ctx, candidate)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Stop())
		}()
		wg.Wait()
		require.NoError(t, m.Stop())
	}
}

func TestConcurrentMutationsSerialize(t *testing.T) {
	e := newEnv(t)
	dir := t.TempDir()
	seedAlways(t, e, dir)

	m := newManager(t, e, nil)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))

	const n = 10
	paths := make([]string, n)
	for i := range paths {
		paths[i] = writeImage(t, dir, fmt.Sprintf("img%02d.jpg", i))
	}

	var wg sync.WaitGroup
	for _, path := range paths {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			// AddOrUpdate absorbs the race with the watcher seeing the
			// same file; both paths converge on one row.
			_, err := e.ops.AddOrUpdateImage(ctx, p)
			assert.NoError(t, err)
		}(path)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, m.ScanFolder(ctx, dir))
	}()
	wg.Wait()

	require.NoError(t, m.ScanFolder(ctx, dir))
	folder, err := e.folders.GetByPath(dir)
	require.NoError(t, err)
	require.NotNil(t, folder)
	assert.Len(t, folder.Images, n)
}
