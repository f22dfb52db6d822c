// Package trigger starts pipeline runs when the sensor artifact appears.
package trigger

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/teranos/windturbine/am"
	"github.com/teranos/windturbine/errors"
	"github.com/teranos/windturbine/logger"
	"github.com/teranos/windturbine/pulse/coordinator"
)

// SourceWatcher is the Trigger.Source of runs started by a Watcher
const SourceWatcher = "watcher"

// DefaultDebounce coalesces the create+write bursts of one file drop
const DefaultDebounce = 500 * time.Millisecond

// Submitter is the part of the coordinator a Watcher drives
type Submitter interface {
	Submit(ctx context.Context, trig coordinator.Trigger) (string, error)
	ActiveRuns() int
}

// Watcher submits a run when the artifact is created or written and no
// run is in progress. An in-progress run's sensor picks the file up itself.
// Fires are serialised, so one Watcher never starts overlapping runs; runs
// submitted elsewhere can still start between the check and Submit.
type Watcher struct {
	path      string
	submitter Submitter
	log       *zap.SugaredLogger
	debounce  time.Duration

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool

	// held across the ActiveRuns check and Submit
	fireMu sync.Mutex
}

// Option configures a Watcher
type Option func(*Watcher)

// WithDebounce overrides DefaultDebounce
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher watches the directory holding path, creating it if needed
func NewWatcher(path string, submitter Submitter, log *zap.SugaredLogger, opts ...Option) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", path)
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, am.DefaultDirPermissions); err != nil {
		return nil, errors.Wrapf(err, "create artifact directory %s", dir)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, errors.Wrapf(err, "failed to watch %s", dir)
	}

	w := &Watcher{
		path:      abs,
		submitter: submitter,
		log:       logger.ChildLogger(log, logger.FieldPath, abs),
		debounce:  DefaultDebounce,
		watcher:   fw,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching. An artifact already present counts as a drop.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.watchLoop()

	if _, err := os.Stat(w.path); err == nil {
		w.log.Infow("Artifact present at startup")
		w.schedule()
	}
}

// Stop ends watching and cancels any pending submit
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.log.Debugw("Artifact event", "op", event.Op.String())
			w.schedule()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warnw("Artifact watcher error", logger.FieldError, err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	w.fireMu.Lock()
	defer w.fireMu.Unlock()

	w.mu.Lock()
	stopped := w.stopped
	w.mu.Unlock()
	if stopped {
		return
	}

	if active := w.submitter.ActiveRuns(); active > 0 {
		w.log.Infow("Run already active, artifact left for its sensor", "active_runs", active)
		return
	}
	runID, err := w.submitter.Submit(context.Background(), coordinator.Trigger{
		Source: SourceWatcher,
		Detail: w.path,
		At:     time.Now(),
	})
	if err != nil {
		w.log.Errorw("Failed to submit run", logger.FieldError, err)
		return
	}
	w.log.Infow("Run submitted", logger.FieldRunID, runID)
}
