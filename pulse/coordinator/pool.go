package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/windturbine/errors"
	"github.com/teranos/windturbine/logger"
	"github.com/teranos/windturbine/pulse/dag"
)

// pulseLogger wraps zap.SugaredLogger with special methods for Pulse operations
// Uses different log levels to create visual distinction:
// - DEBUG level → STARTING (✿ Opening operations)
// - WARN level → CLOSING (❀ Closing operations)
// - INFO level → PULSE (general worker/run operations)
type pulseLogger struct {
	*zap.SugaredLogger
}

// Starting logs an Opening (✿) event
func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw("✿ "+msg, keysAndValues...)
}

// Closing logs a Closing (❀) event
func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw("❀ "+msg, keysAndValues...)
}

// Pulse logs general worker/run operations
func (l pulseLogger) Pulse(msg string, keysAndValues ...interface{}) {
	l.Infow(msg, keysAndValues...)
}

// Job claim states. Exactly one party moves a job out of jobQueued:
// a worker (to running), or the run loop / pool drain (to dropped).
const (
	jobQueued int32 = iota
	jobRunning
	jobDropped
)

// job is one attempt (or poke) of one step, waiting for a worker
type job struct {
	run     *run
	step    *dag.Step
	attempt int
	poke    int
	state   atomic.Int32
}

func (j *job) claim() bool { return j.state.CompareAndSwap(jobQueued, jobRunning) }
func (j *job) drop() bool  { return j.state.CompareAndSwap(jobQueued, jobDropped) }

// queue is an unbounded FIFO of jobs shared by all runs.
// Unbounded so a run loop never blocks handing work to the pool.
type queue struct {
	mu     sync.Mutex
	items  []*job
	notify chan struct{}
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{}, 1)}
}

func (q *queue) push(j *job) {
	q.mu.Lock()
	q.items = append(q.items, j)
	q.mu.Unlock()
	q.signal()
}

func (q *queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// next blocks until a job is available or ctx is done
func (q *queue) next(ctx context.Context) (*job, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			j := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return j, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-q.notify:
		}
	}
}

func (q *queue) drain() []*job {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// pool runs step jobs of every run on a fixed number of workers
type pool struct {
	workers     int
	stopTimeout time.Duration
	queue       *queue
	logger      pulseLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool

	active atomic.Int32
}

func newPool(workers int, stopTimeout time.Duration, log pulseLogger) *pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &pool{
		workers:     workers,
		stopTimeout: stopTimeout,
		queue:       newQueue(),
		logger:      log,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (p *pool) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Starting("Worker pool started", "workers", p.workers)
}

// submit enqueues j; false once the pool is stopped
func (p *pool) submit(j *job) bool {
	// Held across push so stop's drain sees every accepted job
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	p.queue.push(j)
	return true
}

func (p *pool) worker(id int) {
	defer p.wg.Done()
	for {
		j, ok := p.queue.next(p.ctx)
		if !ok {
			return
		}
		p.execute(id, j)
	}
}

// execute runs one job and reports the result to its run.
// A job whose run was cancelled after it was queued is reported cancelled
// without being invoked.
func (p *pool) execute(workerID int, j *job) {
	if !j.claim() {
		return
	}
	r := j.run
	if r.cancelRequested.Load() {
		r.post(event{kind: evFinished, step: j.step.ID, job: j, cancelled: true})
		return
	}

	p.active.Add(1)
	defer p.active.Add(-1)

	log := logger.ChildLogger(r.log,
		logger.FieldStep, j.step.ID,
		logger.FieldAttempt, j.attempt,
		logger.FieldWorkerID, workerID)

	ctx := r.ctx
	var cancel context.CancelFunc = func() {}
	if j.step.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, j.step.Timeout)
	}

	env := dag.Env{
		RunID:   r.id,
		Step:    j.step.ID,
		Attempt: j.attempt,
		Poke:    j.poke,
		Stage:   r.stage,
		Log:     log,
	}

	started := time.Now()
	out, err := invoke(ctx, j.step, env)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		err = errors.Wrapf(err, "step %s exceeded %s", j.step.ID, j.step.Timeout)
		// A step that already classified its failure keeps that kind
		if errors.KindOf(err) == errors.KindUnknown {
			err = errors.Mark(err, errors.ErrTimeout)
		}
	}
	cancel()

	r.post(event{
		kind:     evFinished,
		step:     j.step.ID,
		job:      j,
		outcome:  out,
		err:      err,
		started:  started,
		finished: time.Now(),
	})
}

// invoke calls the step function, turning a panic into an error
func invoke(ctx context.Context, s *dag.Step, env dag.Env) (out dag.Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.AssertionFailedf("step %s panicked: %v", s.ID, rec)
		}
	}()
	return s.Run(ctx, env)
}

// stop waits for in-flight jobs, then hands every job still queued back to
// its run as cancelled.
func (p *pool) stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Pulse("❀ Worker pool stopped - all workers exited cleanly")
	case <-time.After(p.stopTimeout):
		p.logger.Closing("Worker pool stop timeout - steps may still be running", "timeout", p.stopTimeout)
	}

	for _, j := range p.queue.drain() {
		if j.drop() {
			j.run.post(event{kind: evDropped, step: j.step.ID, job: j})
		}
	}
}
