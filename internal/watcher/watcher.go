// Package watcher turns raw filesystem notifications into exactly one
// ingestion callback per fully-written file.
//
// The FTP protocol layer acknowledges STOR before the data connection has
// drained, so the watcher owns completeness: a file only counts as added
// once its size and mtime stop changing for a stability window. A
// time-bounded processed set absorbs duplicate OS-level events for the
// same path.
package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/shutterlink/shutterlink/internal/expiry"
	"github.com/shutterlink/shutterlink/internal/logging"
	"github.com/shutterlink/shutterlink/internal/metrics"
)

// Options tune the stability and dedup windows. Zero values take the
// production defaults.
type Options struct {
	StabilityThreshold time.Duration // quiet period before a file counts as written
	PollInterval       time.Duration // stability check cadence
	ProcessedTTL       time.Duration // duplicate suppression window
}

func (o *Options) applyDefaults() {
	if o.StabilityThreshold == 0 {
		o.StabilityThreshold = time.Second
	}
	if o.PollInterval == 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.ProcessedTTL == 0 {
		o.ProcessedTTL = 10 * time.Second
	}
}

type fileState struct {
	size       int64
	mtime      time.Time
	lastChange time.Time
}

// Watcher observes one directory tree for new, fully-written files.
type Watcher struct {
	fsw       *fsnotify.Watcher
	root      string
	onFile    func(path string)
	opts      Options
	processed *expiry.Set

	mu       sync.Mutex
	tracking map[string]*fileState

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a watcher over root. onFile runs on its own goroutine once
// per stable file.
func New(root string, onFile func(path string), opts Options) (*Watcher, error) {
	opts.applyDefaults()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:       fsw,
		root:      root,
		onFile:    onFile,
		opts:      opts,
		processed: expiry.NewSet(opts.ProcessedTTL),
		tracking:  make(map[string]*fileState),
		done:      make(chan struct{}),
	}

	if err := w.addRecursive(root); err != nil {
		fsw.Close()
		w.processed.Close()
		return nil, err
	}
	return w, nil
}

// Start begins watching. Stop with Close.
func (w *Watcher) Start() {
	w.wg.Add(2)
	go w.eventLoop()
	go w.pollLoop()
	logging.Info("watcher started", zap.String("root", w.root))
}

// Close stops the watcher and waits for its loops to exit. In-flight
// onFile callbacks are not interrupted.
func (w *Watcher) Close() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()
	})
	w.wg.Wait()
	w.processed.Close()
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if isHidden(path) && path != root {
				return filepath.SkipDir
			}
			if err := w.fsw.Add(path); err != nil {
				logging.Warn("failed to watch directory",
					zap.String("path", path), zap.Error(err))
			}
		}
		return nil
	})
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// Never crash on watcher errors; the watcher is recreated on
			// the next session start.
			logging.Error("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	metrics.RecordWatcherEvent()
	path := event.Name

	if isHidden(path) {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.IsDir() {
		// Cameras may create date-named subdirectories mid-session.
		if event.Has(fsnotify.Create) {
			_ = w.addRecursive(path)
		}
		return
	}

	now := time.Now()
	w.mu.Lock()
	state, ok := w.tracking[path]
	if !ok {
		w.tracking[path] = &fileState{size: info.Size(), mtime: info.ModTime(), lastChange: now}
	} else {
		if state.size != info.Size() || !state.mtime.Equal(info.ModTime()) {
			state.size = info.Size()
			state.mtime = info.ModTime()
			state.lastChange = now
		}
	}
	w.mu.Unlock()
}

func (w *Watcher) pollLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

// sweep re-stats tracked files and dispatches the ones that have been
// quiet for the full stability window.
func (w *Watcher) sweep() {
	now := time.Now()
	var ready []string

	w.mu.Lock()
	for path, state := range w.tracking {
		info, err := os.Stat(path)
		if err != nil {
			// Removed before it settled.
			delete(w.tracking, path)
			continue
		}
		if state.size != info.Size() || !state.mtime.Equal(info.ModTime()) {
			state.size = info.Size()
			state.mtime = info.ModTime()
			state.lastChange = now
			continue
		}
		if now.Sub(state.lastChange) >= w.opts.StabilityThreshold {
			delete(w.tracking, path)
			ready = append(ready, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		if w.processed.Contains(path) {
			logging.Debug("file already processed", zap.String("path", path))
			metrics.RecordFileIngested("duplicate")
			continue
		}
		w.processed.Add(path)
		logging.Info("detected new file", zap.String("path", path))
		go w.onFile(path)
	}
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
