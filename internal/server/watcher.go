package server

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const debounceDelay = 100 * time.Millisecond

// Watcher reports changed files under a root directory in batches. Every
// directory below the root is watched except hidden ones, "node_modules",
// and the ignored directories.
type Watcher struct {
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	root      string
	ignored   map[string]bool
	zap       *zap.Logger
	stop      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewWatcher calls onChange with the sorted absolute paths of a batch.
// Ignored directories are given as absolute paths.
func NewWatcher(root string, ignored []string, z *zap.Logger, onChange func(paths []string)) (*Watcher, error) {
	inner, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if z == nil {
		z = zap.NewNop()
	}
	w := &Watcher{
		watcher:   inner,
		debouncer: NewDebouncer(debounceDelay),
		root:      filepath.Clean(root),
		ignored:   make(map[string]bool, len(ignored)),
		zap:       z,
		stop:      make(chan struct{}),
	}
	for _, dir := range ignored {
		w.ignored[filepath.Clean(dir)] = true
	}
	w.debouncer.SetCallback(onChange)
	return w, nil
}

func (w *Watcher) Start() error {
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.shouldIgnore(path) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.root, err)
	}
	w.wg.Add(1)
	go w.watch()
	return nil
}

func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stop)
		w.wg.Wait()
		w.debouncer.Stop()
		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) watch() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.zap.Warn("watch error", zap.Error(err))

		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if w.shouldIgnore(event.Name) {
		return
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err != nil {
				w.zap.Warn("could not watch new directory", zap.String("dir", event.Name), zap.Error(err))
			}
			return
		}
	}
	// Editors that save through a rename show up as a create
	if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
		w.zap.Debug("file changed", zap.String("path", event.Name))
		w.debouncer.Add(event.Name)
	}
}

func (w *Watcher) shouldIgnore(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || base == "node_modules" {
		return true
	}
	for dir := filepath.Clean(path); ; {
		if w.ignored[dir] {
			return true
		}
		parent := filepath.Dir(dir)
		if parent == dir || !strings.HasPrefix(parent, w.root) {
			return false
		}
		dir = parent
	}
}

// Debouncer collects paths until none has arrived for a while, then hands
// them over in one batch
type Debouncer struct {
	delay    time.Duration
	mutex    sync.Mutex
	timer    *time.Timer
	paths    map[string]bool
	callback func([]string)
	stopped  bool
}

func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay, paths: make(map[string]bool)}
}

func (d *Debouncer) SetCallback(callback func([]string)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.callback = callback
}

func (d *Debouncer) Add(path string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.stopped {
		return
	}
	d.paths[path] = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.flush)
}

// The callback runs without the lock, so it may take as long as it needs
func (d *Debouncer) flush() {
	d.mutex.Lock()
	if len(d.paths) == 0 || d.stopped {
		d.mutex.Unlock()
		return
	}
	paths := make([]string, 0, len(d.paths))
	for path := range d.paths {
		paths = append(paths, path)
	}
	d.paths = make(map[string]bool)
	callback := d.callback
	d.mutex.Unlock()

	sort.Strings(paths)
	if callback != nil {
		callback(paths)
	}
}

func (d *Debouncer) Stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
