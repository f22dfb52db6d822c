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
	"github.com/teranos/windturbine/pulse/staging"
)

type eventKind int

const (
	evFinished eventKind = iota // a worker finished (or refused) a job
	evWake                      // a retry or poke delay elapsed
	evDropped                   // the pool stopped with the job still queued
	evCancel                    // Cancel was called
)

type event struct {
	kind      eventKind
	step      dag.StepID
	job       *job
	gen       int
	outcome   dag.Outcome
	err       error
	cancelled bool
	started   time.Time
	finished  time.Time
}

// stepState is owned by the run loop
type stepState struct {
	res       StepResult
	job       *job
	timer     *time.Timer
	gen       int
	firstPoke time.Time
}

// run is one execution of the graph. All fields below events are touched
// only by the loop goroutine.
type run struct {
	id      string
	trigger Trigger
	graph   *dag.Graph
	coord   *Coordinator
	ctx     context.Context
	stage   *staging.Store
	log     *zap.SugaredLogger

	// At most one event per step is ever outstanding, plus one cancel,
	// so posting never blocks.
	events          chan event
	cancelOnce      sync.Once
	cancelRequested atomic.Bool
	done            chan struct{}
	result          *RunResult

	cancelled bool
	started   time.Time
	steps     map[dag.StepID]*stepState
}

func newRun(c *Coordinator, ctx context.Context, id string, trig Trigger) *run {
	r := &run{
		id:      id,
		trigger: trig,
		graph:   c.graph,
		coord:   c,
		ctx:     context.WithoutCancel(logger.WithRunID(ctx, id)),
		stage:   staging.New(id),
		log:     logger.ChildLogger(c.logger.SugaredLogger, logger.FieldRunID, id),
		events:  make(chan event, c.graph.Len()+1),
		done:    make(chan struct{}),
		steps:   make(map[dag.StepID]*stepState, c.graph.Len()),
	}
	for _, sid := range c.graph.Order() {
		r.steps[sid] = &stepState{res: StepResult{ID: sid, State: StatePending}}
	}
	return r
}

func (r *run) post(ev event) {
	r.events <- ev
}

// requestCancel is safe to call from any goroutine, any number of times
func (r *run) requestCancel() {
	r.cancelOnce.Do(func() {
		r.cancelRequested.Store(true)
		r.post(event{kind: evCancel})
	})
}

func (r *run) loop() {
	r.started = time.Now()
	r.log.Infow("Run started", logger.FieldTrigger, r.trigger.Source)
	r.notifyStarted()

	r.resolve()
	for !r.terminal() {
		ev := <-r.events
		switch ev.kind {
		case evFinished:
			r.handleFinished(ev)
		case evWake:
			r.handleWake(ev)
		case evDropped:
			r.handleDropped(ev)
		case evCancel:
			r.handleCancel()
		}
		r.resolve()
	}

	r.finish()
}

func (r *run) terminal() bool {
	for _, st := range r.steps {
		if !st.res.State.Terminal() {
			return false
		}
	}
	return true
}

func (r *run) handleFinished(ev event) {
	st := r.steps[ev.step]
	if st.job != ev.job || st.res.State.Terminal() {
		return
	}
	st.job = nil
	if st.res.StartedAt.IsZero() {
		st.res.StartedAt = ev.started
	}

	if ev.cancelled {
		r.cancelled = true
		r.settle(ev.step, StateCancelled, errors.Wrapf(errors.ErrCancelled, "step %s not started", ev.step))
		return
	}

	step, _ := r.graph.Step(ev.step)
	err := ev.err

	if err == nil && step.Conditional() && !step.HasBranch(ev.outcome.Branch) {
		err = errors.AssertionFailedf("step %s selected undeclared branch %q", ev.step, ev.outcome.Branch)
	}
	if err == nil {
		st.res.Branch = ev.outcome.Branch
		r.settle(ev.step, StateSuccess, nil)
		return
	}

	// Sensor poke: not ready yet, wait for the next interval
	if step.Poke != nil && errors.Is(err, errors.ErrNotReady) {
		elapsed := ev.finished.Sub(st.firstPoke)
		if elapsed >= step.Poke.Timeout {
			r.settle(ev.step, StateFailed, errors.Mark(
				errors.Newf("step %s: condition not met within %s after %d pokes", ev.step, step.Poke.Timeout, st.res.Pokes),
				errors.ErrTimeout))
			return
		}
		wait := step.Poke.Interval
		if remaining := step.Poke.Timeout - elapsed; remaining < wait {
			wait = remaining
		}
		r.log.Debugw("Poke not ready", logger.FieldStep, ev.step, "poke", st.res.Pokes, logger.FieldDelay, wait)
		r.wait(ev.step, wait)
		return
	}

	policy := r.graph.RetryFor(ev.step)
	if st.res.Attempts < policy.MaxAttempts() && !r.cancelled {
		r.log.Warnw("Step failed, retrying",
			logger.FieldStep, ev.step,
			logger.FieldAttempt, st.res.Attempts,
			logger.FieldErrorKind, errors.KindOf(err),
			logger.FieldError, err,
			logger.FieldDelay, policy.Delay)
		st.res.Attempts++
		r.wait(ev.step, policy.Delay)
		return
	}

	r.settle(ev.step, StateFailed, err)
}

// wait parks a step until d elapses. The next dispatch reuses the step's
// attempt and poke counters as already advanced by the caller.
func (r *run) wait(id dag.StepID, d time.Duration) {
	st := r.steps[id]
	st.gen++
	gen := st.gen
	st.res.State = StateWaiting
	st.timer = time.AfterFunc(d, func() {
		r.post(event{kind: evWake, step: id, gen: gen})
	})
}

func (r *run) handleWake(ev event) {
	st := r.steps[ev.step]
	if st.res.State != StateWaiting || st.gen != ev.gen {
		return
	}
	st.timer = nil
	if r.cancelled {
		r.settle(ev.step, StateCancelled, errors.Wrapf(errors.ErrCancelled, "step %s not resumed", ev.step))
		return
	}
	step, _ := r.graph.Step(ev.step)
	if step.Poke != nil && st.res.Attempts > 0 {
		st.res.Pokes++
	}
	r.enqueue(ev.step)
}

func (r *run) handleDropped(ev event) {
	st := r.steps[ev.step]
	if st.job != ev.job {
		return
	}
	st.job = nil
	r.cancelled = true
	r.settle(ev.step, StateCancelled, errors.Wrapf(errors.ErrCancelled, "step %s dropped at shutdown", ev.step))
}

func (r *run) handleCancel() {
	if r.cancelled {
		return
	}
	r.cancelled = true
	r.log.Infow("Run cancelled")

	for _, id := range r.graph.Order() {
		st := r.steps[id]
		switch st.res.State {
		case StatePending:
			r.settle(id, StateCancelled, errors.Wrapf(errors.ErrCancelled, "step %s not started", id))
		case StateWaiting:
			if st.timer != nil {
				st.timer.Stop()
				st.timer = nil
			}
			r.settle(id, StateCancelled, errors.Wrapf(errors.ErrCancelled, "step %s not resumed", id))
		case StateQueued:
			// A worker may already have claimed it; then it is in flight and reports back
			if st.job != nil && st.job.drop() {
				st.job = nil
				r.settle(id, StateCancelled, errors.Wrapf(errors.ErrCancelled, "step %s not started", id))
			}
		}
	}
}

// resolve walks pending steps in topological order. One pass suffices:
// every decision depends only on upstream states, which the pass has
// already settled.
func (r *run) resolve() {
	for _, id := range r.graph.Order() {
		st := r.steps[id]
		if st.res.State != StatePending {
			continue
		}
		step, _ := r.graph.Step(id)

		var (
			notSelected bool
			failedUp    dag.StepID
			skippedUp   bool
			cancelledUp bool
			condPending bool
		)
		allSucceeded := true
		for _, up := range step.Upstream {
			us := r.steps[up]
			upStep, _ := r.graph.Step(up)
			if upStep.Conditional() && !us.res.State.Terminal() {
				// Branch selection decides first; failures elsewhere wait for it
				condPending = true
			}
			switch us.res.State {
			case StateSuccess:
				if upStep.Conditional() && us.res.Branch != id {
					notSelected = true
				}
			case StateFailed, StateUpstreamFailed:
				if failedUp == "" {
					failedUp = up
				}
				allSucceeded = false
			case StateSkipped:
				skippedUp = true
				allSucceeded = false
			case StateCancelled:
				cancelledUp = true
				allSucceeded = false
			default:
				allSucceeded = false
			}
		}

		switch {
		case notSelected:
			r.settle(id, StateSkipped, nil)
		case condPending:
			// decided once the conditional upstream settles
		case failedUp != "":
			r.settle(id, StateUpstreamFailed,
				errors.Wrapf(errors.ErrUpstreamFailed, "dependency %s did not succeed", failedUp))
		case cancelledUp:
			r.settle(id, StateCancelled, errors.Wrap(errors.ErrCancelled, "dependency cancelled"))
		case skippedUp:
			r.settle(id, StateSkipped, nil)
		case allSucceeded:
			if r.cancelled {
				r.settle(id, StateCancelled, errors.Wrapf(errors.ErrCancelled, "step %s not started", id))
				continue
			}
			r.dispatch(id)
		}
	}
}

// dispatch starts the first attempt of a step
func (r *run) dispatch(id dag.StepID) {
	st := r.steps[id]
	step, _ := r.graph.Step(id)
	st.res.Attempts = 1
	if step.Poke != nil {
		st.res.Pokes = 1
		st.firstPoke = time.Now()
	}
	r.enqueue(id)
}

func (r *run) enqueue(id dag.StepID) {
	st := r.steps[id]
	step, _ := r.graph.Step(id)
	if step.Poke != nil && st.firstPoke.IsZero() {
		st.firstPoke = time.Now()
	}

	j := &job{run: r, step: step, attempt: st.res.Attempts, poke: st.res.Pokes}
	st.job = j
	st.res.State = StateQueued
	if !r.coord.pool.submit(j) {
		st.job = nil
		r.cancelled = true
		r.settle(id, StateCancelled, errors.Wrapf(errors.ErrCancelled, "step %s: coordinator stopped", id))
	}
}

// settle records a terminal state and tells observers
func (r *run) settle(id dag.StepID, state State, err error) {
	st := r.steps[id]
	st.res.State = state
	st.res.Err = err
	st.res.Kind = errors.KindOf(err)
	if err != nil {
		st.res.Error = err.Error()
	}
	st.res.FinishedAt = time.Now()

	fields := []interface{}{logger.FieldStep, id, logger.FieldState, state, logger.FieldAttempt, st.res.Attempts}
	switch state {
	case StateFailed:
		r.log.Errorw("Step failed", append(fields, logger.FieldErrorKind, st.res.Kind, logger.FieldError, err)...)
	case StateSuccess:
		if st.res.Branch != "" {
			fields = append(fields, logger.FieldBranch, st.res.Branch)
		}
		r.log.Infow("Step succeeded", append(fields, logger.FieldDurationMS, st.res.Duration().Milliseconds())...)
	default:
		r.log.Debugw("Step settled", fields...)
	}

	for _, o := range r.coord.observers {
		if oerr := o.StepFinished(r.ctx, r.id, st.res); oerr != nil {
			r.log.Warnw("Observer failed on step outcome", logger.FieldStep, id, logger.FieldError, oerr)
		}
	}
}

func (r *run) snapshot(status Status) *RunResult {
	res := &RunResult{
		RunID:     r.id,
		Trigger:   r.trigger,
		Status:    status,
		Cancelled: r.cancelled,
		StartedAt: r.started,
		Order:     r.graph.Order(),
		Steps:     make(map[dag.StepID]StepResult, len(r.steps)),
	}
	for id, st := range r.steps {
		sr := st.res
		if sr.State == StateQueued && st.job != nil && st.job.state.Load() == jobRunning {
			sr.State = StateRunning
		}
		res.Steps[id] = sr
	}
	return res
}

func (r *run) notifyStarted() {
	snap := r.snapshot(StatusPending)
	for _, o := range r.coord.observers {
		if err := o.RunStarted(r.ctx, snap); err != nil {
			r.log.Warnw("Observer failed on run start", logger.FieldError, err)
		}
	}
}

// finish computes the run status: success iff every step succeeded or was skipped
func (r *run) finish() {
	status := StatusSuccess
	for _, st := range r.steps {
		if st.res.State != StateSuccess && st.res.State != StateSkipped {
			status = StatusFailed
			break
		}
	}

	res := r.snapshot(status)
	res.FinishedAt = time.Now()

	fields := []interface{}{logger.FieldStatus, status, logger.FieldDurationMS, res.FinishedAt.Sub(res.StartedAt).Milliseconds()}
	if status == StatusSuccess {
		r.log.Infow("Run finished", fields...)
	} else {
		for _, f := range res.Failures() {
			fields = append(fields, string(f.ID), f.Kind)
		}
		r.log.Warnw("Run finished", append(fields, "cancelled", res.Cancelled)...)
	}

	for _, o := range r.coord.observers {
		if err := o.RunFinished(r.ctx, res.clone()); err != nil {
			r.log.Warnw("Observer failed on run finish", logger.FieldError, err)
		}
	}

	r.result = res
	r.coord.retire(r)
	close(r.done)
}
