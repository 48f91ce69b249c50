package credentials

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the files must stay quiet before a reload.
const DefaultDebounce = 300 * time.Millisecond

// Watcher observes the files of a FileSource and reloads the material when
// any of them changes. Directories are watched rather than the files, so
// editors and tools that replace files by rename are picked up too.
type Watcher struct {
	source   FileSource
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration
	files    map[string]bool

	callbacksMu sync.RWMutex
	callbacks   []func(Material)

	changedMu sync.Mutex
	changed   time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets the watcher logger.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDebounce sets the quiet period before a reload.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher for source. Call Start to begin watching.
func NewWatcher(source FileSource, opts ...WatcherOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		source:   source,
		watcher:  fsw,
		logger:   slog.Default(),
		debounce: DefaultDebounce,
		files:    make(map[string]bool),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	for _, f := range source.Files() {
		if f != "" {
			w.files[filepath.Clean(f)] = true
		}
	}
	return w, nil
}

// OnChange registers fn to receive freshly loaded material.
func (w *Watcher) OnChange(fn func(Material)) {
	w.callbacksMu.Lock()
	defer w.callbacksMu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Start watches the directories holding the credential files.
func (w *Watcher) Start() error {
	dirs := make(map[string]bool)
	for f := range w.files {
		dirs[filepath.Dir(f)] = true
	}
	for dir := range dirs {
		w.logger.Info("Watching credential directory", "dir", dir)
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
	}

	w.wg.Add(1)
	go w.watchLoop()
	return nil
}

// Stop ends watching. It is safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.files[filepath.Clean(event.Name)] {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.logger.Debug("Credential file event", "file", event.Name, "op", event.Op.String())
				w.changedMu.Lock()
				w.changed = time.Now()
				w.changedMu.Unlock()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Credential watcher error", "error", err)
		case <-ticker.C:
			w.processChanges()
		}
	}
}

func (w *Watcher) processChanges() {
	w.changedMu.Lock()
	if w.changed.IsZero() || time.Since(w.changed) < w.debounce {
		w.changedMu.Unlock()
		return
	}
	w.changed = time.Time{}
	w.changedMu.Unlock()

	m, err := w.source.Load(context.Background())
	if err != nil {
		// A half-written file shows up here; the next event retries.
		w.logger.Warn("Reloading credentials failed", "error", err)
		return
	}
	if _, err := m.TLSConfig(""); err != nil {
		w.logger.Warn("Reloaded credentials are not usable", "error", err)
		return
	}

	w.logger.Info("Credentials changed", "ca", w.source.CAFile, "cert", w.source.CertFile)
	w.callbacksMu.RLock()
	defer w.callbacksMu.RUnlock()
	for _, fn := range w.callbacks {
		fn(m)
	}
}
