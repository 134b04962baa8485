package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"photokeep/internal/cache"
	"photokeep/internal/container"
	"photokeep/internal/kvcache"
	"photokeep/internal/logger"
	"photokeep/internal/models"
	"photokeep/internal/rules"
	"photokeep/internal/watcher"
)

// State is the watcher lifecycle phase of a Manager.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Manager orchestrates the operation service, owns the two live caches and
// the folder watcher, and is the surface consumed by UI code.
type Manager struct {
	ops      *Operations
	rulesSvc *RulesService
	markers  kvcache.Store
	debounce time.Duration

	containers *cache.Cache[container.ImageContainer]
	refs       *cache.Cache[container.ImageRef]

	state     atomic.Int32
	watcherMu sync.Mutex
	watcher   *watcher.Watcher
	wg        sync.WaitGroup

	ruleMu  sync.RWMutex
	ruleSet []models.FolderRule
}

func NewManager(ops *Operations, rulesSvc *RulesService, markers kvcache.Store, debounce time.Duration) *Manager {
	return &Manager{
		ops:        ops,
		rulesSvc:   rulesSvc,
		markers:    markers,
		debounce:   debounce,
		containers: cache.New[container.ImageContainer](),
		refs:       cache.New[container.ImageRef](),
	}
}

// Containers is the connectable ImageContainer cache, keyed by container key.
func (m *Manager) Containers() *cache.Cache[container.ImageContainer] { return m.containers }

// Refs is the connectable folder-image ref cache, keyed by image id.
func (m *Manager) Refs() *cache.Cache[container.ImageRef] { return m.refs }

// Rules exposes rule bookkeeping (set, remove, seed). Applying a changed
// rule set to the stores goes through ResetRules instead.
func (m *Manager) Rules() *RulesService { return m.rulesSvc }

// State reports the current lifecycle phase.
func (m *Manager) State() State { return State(m.state.Load()) }

// Start loads the rule set, runs the initial scans, snapshots the store into
// the caches and begins routing filesystem events. Calling Start while
// already running is a no-op. A store failure leaves the manager stopped
// with nothing half-started.
func (m *Manager) Start(ctx context.Context) error {
	if !m.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return nil
	}
	started := false
	defer func() {
		if !started {
			m.state.Store(int32(StateStopped))
		}
	}()

	ruleSet, err := m.rulesSvc.Load()
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	m.setRules(ruleSet)

	// Initial scans. One unreadable root never aborts the start sequence.
	for _, root := range rules.ScanRoots(ruleSet) {
		action, _ := rules.EffectiveAction(ruleSet, root)
		if action == models.RuleOnce && m.scannedBefore(ctx, root) {
			continue
		}
		if _, err := m.ops.ScanFolder(ctx, root, nil); err != nil {
			logger.Errorf("Initial scan of %s failed: %v", root, err)
			continue
		}
		m.markScanned(ctx, root)
	}

	// Snapshot the store into both caches.
	all, err := m.ops.GetAllImageContainers()
	if err != nil {
		return fmt.Errorf("load containers: %w", err)
	}
	for _, c := range all {
		m.containers.Set(c.Key, c)
		if c.Type != container.TypeFolder {
			continue
		}
		for _, ref := range c.ImageRefs {
			m.refs.Set(RefKey(ref.ImageID), ref)
		}
	}

	w, err := watcher.New(m.debounce)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	for _, root := range rules.WatchRoots(ruleSet) {
		if err := w.AddRecursive(root); err != nil {
			logger.Errorf("Cannot watch %s: %v (skipping)", root, err)
		}
	}
	m.watcherMu.Lock()
	m.watcher = w
	m.watcherMu.Unlock()
	events := w.Start()
	m.wg.Add(1)
	go m.eventLoop(ctx, events)

	started = true
	m.state.Store(int32(StateRunning))
	logger.Infof("Engine running, %d containers cached", m.containers.Len())
	return nil
}

// Stop unsubscribes the watcher and stops accepting filesystem events.
// Caches keep their last known contents. Stopping twice is a no-op.
func (m *Manager) Stop() error {
	if !m.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return nil
	}
	m.watcherMu.Lock()
	w := m.watcher
	m.watcher = nil
	m.watcherMu.Unlock()
	err := w.Close()
	m.wg.Wait()
	m.state.Store(int32(StateStopped))
	logger.Info("Engine stopped")
	return err
}

func (m *Manager) eventLoop(ctx context.Context, events <-chan watcher.Event) {
	defer m.wg.Done()
	for evt := range events {
		// An in-flight operation finishing after Stop is discarded.
		if m.State() != StateRunning {
			continue
		}
		if !m.eventCovered(evt.Path) {
			continue
		}
		switch evt.Op {
		case watcher.OpDiscovered, watcher.OpModified:
			if res, err := m.ops.AddOrUpdateImage(ctx, evt.Path); err != nil {
				logger.Errorf("Apply %s for %s failed: %v", evt.Op, evt.Path, err)
			} else {
				m.applyScan(res)
			}
		case watcher.OpDeleted:
			m.applyRemove(evt.Path)
		}
	}
}

// eventCovered gates filesystem events on the live rule set: only paths whose
// effective action is Always are reconciled continuously.
func (m *Manager) eventCovered(path string) bool {
	m.ruleMu.RLock()
	defer m.ruleMu.RUnlock()
	action, covered := rules.EffectiveAction(m.ruleSet, path)
	return covered && action == models.RuleAlways
}

func (m *Manager) setRules(ruleSet []models.FolderRule) {
	m.ruleMu.Lock()
	m.ruleSet = ruleSet
	m.ruleMu.Unlock()
}

// ScanFolder runs a manual scan of path and applies the delta to both caches.
// applyScan is the single publication point; handing m.refs to the operation
// as well would publish each added ref twice.
func (m *Manager) ScanFolder(ctx context.Context, path string) error {
	res, err := m.ops.ScanFolder(ctx, path, nil)
	if err != nil {
		return err
	}
	m.applyScan(res)
	return nil
}

func (m *Manager) applyScan(res *ScanResult) {
	if res == nil {
		return
	}
	for _, ref := range res.Added {
		m.refs.Set(RefKey(ref.ImageID), ref)
	}
	for _, id := range res.RemovedImageIDs {
		m.refs.Remove(RefKey(id))
	}
	for _, c := range res.Containers {
		m.containers.Set(c.Key, c)
	}
	for _, key := range res.RemovedContainerKeys {
		m.containers.Remove(key)
	}
}

func (m *Manager) applyRemove(path string) {
	res, err := m.ops.DeleteImage(path)
	if err != nil {
		logger.Errorf("Delete image %s failed: %v", path, err)
		return
	}
	if res == nil {
		return
	}
	m.refs.Remove(RefKey(res.ImageID))
	if res.FolderContainer != nil {
		m.containers.Set(res.FolderContainer.Key, *res.FolderContainer)
	}
	m.republishAlbums(res.AlbumIDs)
}

func (m *Manager) republishAlbums(albumIDs []uint) {
	for _, id := range albumIDs {
		c, err := m.ops.GetAlbumImageContainer(id)
		if err != nil {
			logger.Errorf("Reload album %d failed: %v", id, err)
			continue
		}
		if c != nil {
			m.containers.Set(c.Key, *c)
		}
	}
}

// AddImage inserts a single file and publishes its refs.
func (m *Manager) AddImage(ctx context.Context, path string) error {
	res, err := m.ops.AddImage(ctx, path)
	if err != nil {
		return err
	}
	m.applyScan(res)
	return nil
}

// DeleteImage removes a single file's row and its cache entries.
func (m *Manager) DeleteImage(path string) error {
	res, err := m.ops.DeleteImage(path)
	if err != nil {
		return err
	}
	if res != nil {
		m.refs.Remove(RefKey(res.ImageID))
		if res.FolderContainer != nil {
			m.containers.Set(res.FolderContainer.Key, *res.FolderContainer)
		}
		m.republishAlbums(res.AlbumIDs)
	}
	return nil
}

// CreateAlbum creates an empty album container and publishes it.
func (m *Manager) CreateAlbum(name string) (string, error) {
	c, err := m.ops.CreateAlbum(name)
	if err != nil {
		return "", err
	}
	m.containers.Set(c.Key, *c)
	return c.Key, nil
}

// AddImagesToAlbum links images into an album and republishes the container.
// Unknown image ids are skipped and returned.
func (m *Manager) AddImagesToAlbum(albumID uint, imageIDs []uint) ([]uint, error) {
	c, skipped, err := m.ops.AddImagesToAlbum(albumID, imageIDs)
	if err != nil {
		return nil, err
	}
	m.containers.Set(c.Key, *c)
	return skipped, nil
}

// DeleteAlbum removes the album and its cache entry.
func (m *Manager) DeleteAlbum(albumID uint) error {
	key, err := m.ops.DeleteAlbum(albumID)
	if err != nil {
		return err
	}
	m.containers.Remove(key)
	return nil
}

// PreviewResetRulesChanges reports what ResetRules would change.
func (m *Manager) PreviewResetRulesChanges(candidate []models.FolderRule) (*ResetChanges, error) {
	return m.ops.PreviewResetRulesChanges(candidate)
}

// ResetRules applies a candidate rule set: persists it, evicts content no
// longer covered, scans newly covered roots and updates both caches.
func (m *Manager) ResetRules(ctx context.Context, candidate []models.FolderRule) (*ResetChanges, error) {
	res, err := m.ops.ApplyRuleChanges(ctx, candidate, m.refs)
	if err != nil {
		return nil, err
	}

	for _, key := range res.Changes.ContainersToRemove {
		m.containers.Remove(key)
	}
	for _, scanRes := range res.Scanned {
		for _, c := range scanRes.Containers {
			m.containers.Set(c.Key, c)
		}
		for _, key := range scanRes.RemovedContainerKeys {
			m.containers.Remove(key)
		}
		m.markScanned(ctx, scanRes.Root)
	}

	ruleSet, err := m.rulesSvc.Load()
	if err != nil {
		return nil, err
	}
	m.setRules(ruleSet)

	// New Always roots join the live watch; roots no longer covered are
	// filtered by eventCovered until the next Start. Adding to a watcher a
	// concurrent Stop just closed only returns an error, never panics.
	m.watcherMu.Lock()
	w := m.watcher
	m.watcherMu.Unlock()
	if w != nil {
		for _, root := range rules.WatchRoots(ruleSet) {
			if err := w.AddRecursive(root); err != nil {
				logger.Warnf("Cannot watch %s: %v", root, err)
			}
		}
	}
	return res.Changes, nil
}

func (m *Manager) scannedBefore(ctx context.Context, root string) bool {
	_, ok, err := m.markers.GetTime(ctx, kvcache.ScanMarkerKey(root))
	if err != nil {
		logger.Warnf("Scan marker lookup for %s failed: %v", root, err)
		return false
	}
	return ok
}

func (m *Manager) markScanned(ctx context.Context, root string) {
	if err := m.markers.SetTime(ctx, kvcache.ScanMarkerKey(root), time.Now()); err != nil {
		logger.Warnf("Scan marker write for %s failed: %v", root, err)
	}
}

// Close shuts the engine down and terminates every cache subscription.
func (m *Manager) Close() error {
	err := m.Stop()
	m.containers.Close()
	m.refs.Close()
	return err
}
