// Package coordinator runs a dag.Graph once per trigger.
//
// Each run gets its own loop goroutine that owns the run's step states and
// decides what becomes eligible next; step functions execute on a worker
// pool shared by all runs. Retry and poke delays are timers that post back
// into the run loop, so a waiting step never holds a worker and one run's
// wait never starves another run.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/windturbine/errors"
	"github.com/teranos/windturbine/logger"
	"github.com/teranos/windturbine/pulse/dag"
)

var (
	// ErrNotStarted is returned by Submit before Start
	ErrNotStarted = errors.New("coordinator not started")

	// ErrStopped is returned by Submit after Stop
	ErrStopped = errors.New("coordinator stopped")

	// ErrUnknownRun is returned for run IDs that are neither active nor retained
	ErrUnknownRun = errors.New("unknown run")

	// ErrRunFinished is returned by Cancel for a run that already finished
	ErrRunFinished = errors.New("run already finished")
)

// KeepNoRuns as Config.RetainedRuns drops finished results at once. Their
// outcome is then only reachable through the Handle returned by Launch.
const KeepNoRuns = -1

// Config controls coordinator concurrency and bookkeeping
type Config struct {
	Workers      int           `json:"workers"`       // Concurrent step executions across all runs
	RetainedRuns int           `json:"retained_runs"` // Finished results kept for Await; 0 uses the default, KeepNoRuns keeps none
	StopTimeout  time.Duration `json:"stop_timeout"`  // How long Stop waits for in-flight steps
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		RetainedRuns: 100,
		StopTimeout:  30 * time.Second,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.Workers < 1 {
		c.Workers = d.Workers
	}
	switch {
	case c.RetainedRuns == 0:
		c.RetainedRuns = d.RetainedRuns
	case c.RetainedRuns < 0:
		c.RetainedRuns = KeepNoRuns
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	return c
}

// Option customizes a Coordinator
type Option func(*Coordinator)

// WithObserver registers observers notified of every run
func WithObserver(obs ...Observer) Option {
	return func(c *Coordinator) {
		c.observers = append(c.observers, obs...)
	}
}

// WithIDGenerator replaces the uuid run ID generator
func WithIDGenerator(fn func() string) Option {
	return func(c *Coordinator) {
		c.newID = fn
	}
}

// Coordinator owns a validated graph and every run of it
type Coordinator struct {
	graph     *dag.Graph
	cfg       Config
	logger    pulseLogger
	observers []Observer
	newID     func() string
	pool      *pool

	mu            sync.Mutex
	started       bool
	stopped       bool
	active        map[string]*run
	finished      map[string]*RunResult
	finishedOrder []string
	loops         sync.WaitGroup
}

// New creates a coordinator for graph. Call Start before Submit.
func New(graph *dag.Graph, cfg Config, log *zap.SugaredLogger, opts ...Option) *Coordinator {
	if log == nil {
		log = logger.Logger
	}
	cfg = cfg.normalized()
	pLogger := pulseLogger{log.Named("pulse")}

	c := &Coordinator{
		graph:    graph,
		cfg:      cfg,
		logger:   pLogger,
		newID:    uuid.NewString,
		pool:     newPool(cfg.Workers, cfg.StopTimeout, pLogger),
		active:   make(map[string]*run),
		finished: make(map[string]*RunResult),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Graph returns the graph this coordinator runs
func (c *Coordinator) Graph() *dag.Graph { return c.graph }

// Start launches the worker pool
func (c *Coordinator) Start() {
	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	if warning := c.checkMemoryPressure(); warning != "" {
		c.logger.Warnw("Memory pressure warning", "warning", warning, "workers", c.cfg.Workers)
	}
	c.pool.start()
}

// Stop cancels every active run, lets in-flight steps finish, and waits for
// the run loops to record their results.
// ❀ Closing: uses Config.StopTimeout so shutdown never blocks indefinitely
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	runs := make([]*run, 0, len(c.active))
	for _, r := range c.active {
		runs = append(runs, r)
	}
	c.mu.Unlock()

	c.logger.Closing("Coordinator stopping", "active_runs", len(runs))
	for _, r := range runs {
		r.requestCancel()
	}
	c.pool.stop()

	done := make(chan struct{})
	go func() {
		c.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
		c.logger.Pulse("❀ Coordinator stopped")
	case <-time.After(c.cfg.StopTimeout):
		c.logger.Closing("Coordinator stop timeout - runs still finishing", "timeout", c.cfg.StopTimeout)
	}
}

// Submit starts a new run and returns its ID without waiting for it.
// ctx carries logging values into steps; cancelling it does not cancel the run, use Cancel.
func (c *Coordinator) Submit(ctx context.Context, trig Trigger) (string, error) {
	r, err := c.submit(ctx, trig)
	if err != nil {
		return "", err
	}
	return r.id, nil
}

// Handle refers to one submitted run. Unlike Await by ID, it can always
// read the result, however many runs finished since.
type Handle struct {
	r *run
}

// ID returns the run ID
func (h *Handle) ID() string { return h.r.id }

// Await blocks until the run is terminal or ctx is done
func (h *Handle) Await(ctx context.Context) (*RunResult, error) { return h.r.await(ctx) }

// Cancel behaves like Coordinator.Cancel for this run
func (h *Handle) Cancel() error {
	select {
	case <-h.r.done:
		return errors.Wrapf(ErrRunFinished, "run %s", h.r.id)
	default:
	}
	h.r.requestCancel()
	return nil
}

// Launch starts a new run like Submit and returns a handle to it
func (c *Coordinator) Launch(ctx context.Context, trig Trigger) (*Handle, error) {
	r, err := c.submit(ctx, trig)
	if err != nil {
		return nil, err
	}
	return &Handle{r: r}, nil
}

func (c *Coordinator) submit(ctx context.Context, trig Trigger) (*run, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "submit")
	}
	if trig.At.IsZero() {
		trig.At = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil, ErrStopped
	}
	if !c.started {
		return nil, ErrNotStarted
	}

	id := c.newID()
	if _, dup := c.active[id]; dup {
		return nil, errors.AssertionFailedf("run id %s already active", id)
	}
	r := newRun(c, ctx, id, trig)
	c.active[id] = r
	c.loops.Add(1)
	go func() {
		defer c.loops.Done()
		r.loop()
	}()
	return r, nil
}

// Run submits a run and waits for its result
func (c *Coordinator) Run(ctx context.Context, trig Trigger) (*RunResult, error) {
	r, err := c.submit(ctx, trig)
	if err != nil {
		return nil, err
	}
	return r.await(ctx)
}

// Await blocks until the run reaches a terminal status or ctx is done.
// A finished run stays awaitable while it is among the last RetainedRuns
// results; use Launch when the result must never be missed.
func (c *Coordinator) Await(ctx context.Context, runID string) (*RunResult, error) {
	c.mu.Lock()
	if res, ok := c.finished[runID]; ok {
		c.mu.Unlock()
		return res.clone(), nil
	}
	r, ok := c.active[runID]
	c.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownRun, "run %s", runID)
	}
	return r.await(ctx)
}

func (r *run) await(ctx context.Context) (*RunResult, error) {
	select {
	case <-r.done:
		return r.result.clone(), nil
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "await run %s", r.id)
	}
}

// Cancel stops dispatching new steps of a run. Steps already executing
// finish; everything not yet started ends cancelled.
func (c *Coordinator) Cancel(runID string) error {
	c.mu.Lock()
	r, ok := c.active[runID]
	_, done := c.finished[runID]
	c.mu.Unlock()

	switch {
	case ok:
		r.requestCancel()
		return nil
	case done:
		return errors.Wrapf(ErrRunFinished, "run %s", runID)
	default:
		return errors.Wrapf(ErrUnknownRun, "run %s", runID)
	}
}

// ActiveRuns returns the number of runs not yet terminal
func (c *Coordinator) ActiveRuns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// Runs returns retained finished results, oldest first
func (c *Coordinator) Runs() []*RunResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*RunResult, 0, len(c.finishedOrder))
	for _, id := range c.finishedOrder {
		out = append(out, c.finished[id].clone())
	}
	return out
}

// retire moves a finished run from active to the retained results
func (c *Coordinator) retire(r *run) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, r.id)
	if c.cfg.RetainedRuns == KeepNoRuns {
		return
	}
	c.finished[r.id] = r.result
	c.finishedOrder = append(c.finishedOrder, r.id)
	for len(c.finishedOrder) > c.cfg.RetainedRuns {
		delete(c.finished, c.finishedOrder[0])
		c.finishedOrder = c.finishedOrder[1:]
	}
}
