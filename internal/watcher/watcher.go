// Package watcher turns raw fsnotify notifications into the high-level
// image file events the reconciliation engine consumes.
package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"photokeep/internal/logger"
	"photokeep/internal/scanner"

	"github.com/fsnotify/fsnotify"
)

// Op describes the high-level change detected for an image file.
type Op string

const (
	OpDiscovered Op = "discovered"
	OpModified   Op = "modified"
	OpDeleted    Op = "deleted"
)

// Event is a normalized filesystem change for a single image path.
type Event struct {
	Op        Op
	Path      string
	Timestamp time.Time
}

const eventQueueSize = 128

// Watcher watches directory trees recursively and emits debounced Events.
type Watcher struct {
	watcher    *fsnotify.Watcher
	debounce   time.Duration
	watchedDir map[string]struct{}
	mu         sync.Mutex

	pending   map[string]*time.Timer
	pendingMu sync.Mutex

	out  chan Event
	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// New creates a watcher; debounce coalesces write bursts per path.
func New(debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:    fw,
		debounce:   debounce,
		watchedDir: make(map[string]struct{}),
		pending:    make(map[string]*time.Timer),
		out:        make(chan Event, eventQueueSize),
		stop:       make(chan struct{}),
	}, nil
}

// AddRecursive registers root and every directory below it.
func (w *Watcher) AddRecursive(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("watch root is not a directory")
	}
	return w.watchRecursive(filepath.Clean(abs))
}

// Start launches the event loop and returns the event channel. The channel
// is closed once Close is called and the loop has drained.
func (w *Watcher) Start() <-chan Event {
	w.wg.Add(1)
	go w.processEvents()

	go func() {
		w.wg.Wait()
		close(w.out)
	}()

	return w.out
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stop:
			return
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(evt)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Errorf("File watcher error: %v", err)
		}
	}
}

func (w *Watcher) handleEvent(evt fsnotify.Event) {
	path := filepath.Clean(evt.Name)
	now := time.Now()

	if evt.Op&fsnotify.Create != 0 {
		if w.isDir(path) {
			if err := w.watchRecursive(path); err != nil {
				logger.Warnf("Failed to watch new directory %s: %v", path, err)
			}
			// files copied in before the watch was in place
			w.emitExisting(path)
			return
		}
		if scanner.IsImageFile(path) {
			w.debounced(path, Event{Op: OpDiscovered, Path: path, Timestamp: now})
		}
		return
	}

	if evt.Op&fsnotify.Write != 0 && scanner.IsImageFile(path) {
		w.debounced(path, Event{Op: OpModified, Path: path, Timestamp: now})
	}

	// A rename surfaces as Rename on the old path plus Create on the new
	// one, so mapping Rename to Deleted yields delete-old, add-new: the new
	// path gets a fresh row and id.
	if evt.Op&fsnotify.Remove != 0 || evt.Op&fsnotify.Rename != 0 {
		w.removeWatch(path)
		w.cancelPending(path)
		if scanner.IsImageFile(path) {
			w.emit(Event{Op: OpDeleted, Path: path, Timestamp: now})
		}
	}
}

// emitExisting raises Discovered for image files already present under a
// directory that appeared as a whole (move-in or fast copy).
func (w *Watcher) emitExisting(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if scanner.IsImageFile(path) {
			w.debounced(path, Event{Op: OpDiscovered, Path: path, Timestamp: time.Now()})
		}
	}
}

// debounced defers the event until the path has been quiet for the debounce
// window; a newer event for the same path resets the timer.
func (w *Watcher) debounced(path string, evt Event) {
	if w.debounce <= 0 {
		w.emit(evt)
		return
	}
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	if timer, ok := w.pending[path]; ok {
		timer.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.pendingMu.Lock()
		delete(w.pending, path)
		w.pendingMu.Unlock()
		w.emit(evt)
	})
}

func (w *Watcher) cancelPending(path string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	if timer, ok := w.pending[path]; ok {
		timer.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) emit(evt Event) {
	select {
	case <-w.stop:
		return
	default:
	}
	select {
	case w.out <- evt:
	default:
		logger.Errorf("File watcher backpressure, dropping event %+v", evt)
	}
}

func (w *Watcher) watchRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			logger.Warnf("Failed to access %s: %v", path, err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		return w.addWatch(path)
	})
}

func (w *Watcher) addWatch(dir string) error {
	w.mu.Lock()
	if _, exists := w.watchedDir[dir]; exists {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	w.mu.Lock()
	w.watchedDir[dir] = struct{}{}
	w.mu.Unlock()
	return nil
}

func (w *Watcher) removeWatch(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.watchedDir[path]; ok {
		if err := w.watcher.Remove(path); err != nil {
			logger.Warnf("Failed to remove watcher for %s: %v", path, err)
		}
		delete(w.watchedDir, path)
	}
}

func (w *Watcher) isDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// Close stops the watcher; safe to call more than once.
func (w *Watcher) Close() error {
	var closeErr error
	w.once.Do(func() {
		close(w.stop)
		if err := w.watcher.Close(); err != nil {
			closeErr = err
		}
		w.pendingMu.Lock()
		for path, timer := range w.pending {
			timer.Stop()
			delete(w.pending, path)
		}
		w.pendingMu.Unlock()
	})
	w.wg.Wait()
	return closeErr
}
