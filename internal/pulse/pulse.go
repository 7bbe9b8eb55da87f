// Package pulse implements the recurring task scheduler from spec.md
// §4.6 ("Pulse"): a registry of tasks, each its own cron/interval-driven
// state machine (READY -> RUNNING -> STOPPED|ERROR) with retry counting
// and fractional progress, exactly the Task data model spec.md §3 names
// (delay, repeat, attempts, attempt, count, error).
//
// Grounded on the teacher's internal/plugins/scheduler.go, which runs one
// robfig/cron entry per active plugin job with panic recovery around each
// fire; this package keeps that per-job panic containment and the
// robfig/cron expression parser, but generalizes the single plugin-only
// cron job into a named-task registry any component (the catalog's
// plugin-load hook, the search coordinator's scheduled reindex) can
// register against. Per spec.md §9's design notes, cron and interval
// tasks are not two components: a cron expression is parsed at register
// time into a recurring "time until next fire" delay and the task is
// otherwise driven through the same state machine as a fixed-delay task.
package pulse

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/streamspace/pluginrt/internal/logger"
)

// Status is one of the scheduler's task lifecycle states (spec.md §3).
type Status string

const (
	StatusReady   Status = "ready"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusError   Status = "error"
)

// Run is the job body a Task executes. progress lets long-running work
// report fractional completion ahead of the count/repeat-derived value;
// the scheduler keeps whichever was reported most recently.
type Run func(params map[string]interface{}, progress func(float64)) error

// Options configures a Task at registration, mirroring spec.md §4.3.4's
// `register(id, callback, options, ...params)` options bag.
type Options struct {
	// Attempts caps retries on error: -1 means unlimited retries, 0 means
	// fail immediately on the first error, N>0 means retry up to N times
	// before giving up. Per spec.md §3's invariant, the task is "failed"
	// once attempt >= attempts (for attempts >= 0).
	Attempts int
	// Autostart arms the task's timer once the scheduler is started (at
	// Register if Start already ran, otherwise at Start); the first fire
	// follows after Delay, or at the Schedule's next fire instant.
	Autostart bool
	// Delay is the fixed interval between fires. Ignored if Schedule is set.
	Delay time.Duration
	// Repeat is the number of successful executions the task completes
	// after. <= 0 means unbounded (the spec.md §3 "infinite" convention is
	// -1; 0 behaves the same way here since there is no target to reach).
	Repeat int
	// Schedule is an optional 5-field cron expression. When set, each
	// reschedule computes the delay until the expression's next fire
	// instant instead of using a fixed Delay, per spec.md §9's "cron
	// scheduling uses the same scheduler" design note.
	Schedule string
	// Debug enables verbose per-fire logging.
	Debug bool
}

// Task is one scheduled unit of recurring work and its own state machine,
// matching spec.md §3's Task record and §4.3.4's transition diagram.
type Task struct {
	ID       string
	Callback Run
	Params   map[string]interface{}
	Options  Options

	mu          sync.Mutex
	status      Status
	attempt     int
	count       int
	repeat      int
	complete    bool
	failed      bool
	lastErr     error
	reported    float64
	hasReported bool
	pendingStop bool
	timer       *time.Timer
	schedule    cron.Schedule
}

// Status returns the task's current lifecycle state.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Attempt returns the task's current retry counter.
func (t *Task) Attempt() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempt
}

// Count returns the number of successful executions so far (spec.md §3:
// "count increments on every attempted execution and decrements on
// error, so count reflects successful executions").
func (t *Task) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Failed reports whether the task stopped because its retry budget was
// exhausted (attempt >= attempts, attempts >= 0), per spec.md §3.
func (t *Task) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}

// LastError returns the error from the task's most recent failed run, if
// any is still outstanding.
func (t *Task) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Progress reports fractional completion: spec.md §4.3.4's
// `complete ? 1 : (repeat>0 ? count/repeat : 0)`, unless the job itself
// reported a more specific value through its progress callback, in which
// case that value wins.
func (t *Task) Progress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hasReported {
		return t.reported
	}
	if t.complete {
		return 1
	}
	if t.repeat > 0 {
		return float64(t.count) / float64(t.repeat)
	}
	return 0
}

// Scheduler is the singleton task registry spec.md §4.3.4 describes.
type Scheduler struct {
	mu      sync.RWMutex
	tasks   map[string]*Task
	started bool
}

// New creates an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{tasks: make(map[string]*Task)}
}

// Register adds a task under id and schedules its first fire if
// opts.Autostart is set and the scheduler has been started. Re-registering an id replaces the previous task
// after stopping it, matching the registry-replace convention the rest of
// the runtime uses (spec.md §4.4).
func (s *Scheduler) Register(id string, callback Run, opts Options, params map[string]interface{}) (*Task, error) {
	if id == "" {
		return nil, fmt.Errorf("pulse: task id is required")
	}

	t := &Task{
		ID:       id,
		Callback: callback,
		Params:   params,
		Options:  opts,
		status:   StatusReady,
		repeat:   opts.Repeat,
	}

	if opts.Schedule != "" {
		sched, err := cron.ParseStandard(opts.Schedule)
		if err != nil {
			return nil, fmt.Errorf("pulse: invalid schedule %q for task %s: %w", opts.Schedule, id, err)
		}
		t.schedule = sched
	}

	s.mu.Lock()
	if existing, ok := s.tasks[id]; ok {
		existing.stop()
	}
	s.tasks[id] = t
	started := s.started
	s.mu.Unlock()

	if opts.Autostart && started {
		t.start()
	}
	return t, nil
}

// Get returns the task registered under id, if any.
func (s *Scheduler) Get(id string) (*Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	return t, ok
}

// List returns every registered task id.
func (s *Scheduler) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.tasks))
	for id := range s.tasks {
		out = append(out, id)
	}
	return out
}

// Start arms the timer of every autostart task that is not already
// running, and marks the scheduler started so subsequent Register calls
// with Autostart arm their timer at once instead of waiting for a Start
// that already happened.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.started = true
	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		if t.Options.Autostart {
			t.start()
		}
	}
}

// Stop stops every task the way StopTask does. It does not wait: a task
// that is RUNNING (armed or executing) settles into STOPPED when its timer
// fires or its in-flight callback returns, without running again.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.started = false
	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		t.stop()
	}
}

// StartTask arms id's timer (a no-op if it is already running), per
// spec.md §4.3.4's `start()`.
func (s *Scheduler) StartTask(id string) error {
	t, ok := s.Get(id)
	if !ok {
		return fmt.Errorf("pulse: unknown task %s", id)
	}
	t.start()
	return nil
}

// Now pre-empts id's timer and runs it immediately, per spec.md §4.3.4's
// `now()`.
func (s *Scheduler) Now(id string) error {
	t, ok := s.Get(id)
	if !ok {
		return fmt.Errorf("pulse: unknown task %s", id)
	}
	t.now()
	return nil
}

// StopTask halts id; if it is currently RUNNING, the stop is honoured at
// the next callback boundary, per spec.md §4.3.4's `stop()`.
func (s *Scheduler) StopTask(id string) error {
	t, ok := s.Get(id)
	if !ok {
		return fmt.Errorf("pulse: unknown task %s", id)
	}
	t.stop()
	return nil
}

// Unregister stops id and drops it from the registry. It does not wait for
// an in-flight run: stop() on a RUNNING task only sets a pending flag,
// honoured at the callback boundary after Unregister has returned.
func (s *Scheduler) Unregister(id string) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	t.stop()
}

// start arms the task's timer for its next fire, unless it is already
// running (spec.md §3: "a task in running cannot start another run").
func (t *Task) start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StatusRunning {
		return
	}
	t.armLocked()
}

// now cancels any pending timer and fires immediately.
func (t *Task) now() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()
	t.fire()
}

// stop halts future fires. A RUNNING task (armed and waiting, or currently
// executing) only has its pending-stop flag set, honoured when its timer
// fires or its in-flight callback returns (spec.md §4.3.4's cooperative
// cancellation).
func (t *Task) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == StatusRunning {
		t.pendingStop = true
		return
	}
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.status = StatusStopped
}

// armLocked schedules the next fire and marks the task running. Callers
// must hold t.mu.
func (t *Task) armLocked() {
	t.status = StatusRunning
	delay := t.nextDelayLocked()
	t.timer = time.AfterFunc(delay, t.fire)
}

func (t *Task) nextDelayLocked() time.Duration {
	if t.schedule != nil {
		return time.Until(t.schedule.Next(time.Now()))
	}
	if t.Options.Delay < 0 {
		return 0
	}
	return t.Options.Delay
}

// fire runs one attempt of the task's callback and drives the state
// transition spec.md §4.3.4 and §8's testable properties describe:
// count increments before the call and decrements on error, attempt
// increments only on an error that does not yet exhaust the retry
// budget, and the task settles into STOPPED (success, repeat reached, or
// retries exhausted) or reschedules itself (success with more repeats
// due, or error still within budget).
func (t *Task) fire() {
	t.mu.Lock()
	if t.pendingStop {
		t.pendingStop = false
		t.status = StatusStopped
		t.mu.Unlock()
		return
	}
	t.count++
	callback := t.Callback
	params := t.Params
	id := t.ID
	debug := t.Options.Debug
	t.mu.Unlock()

	start := time.Now()
	err := t.runSafely(callback, params)
	if debug {
		logger.Emit("pulse", logger.LevelDebug, "task run finished",
			map[string]interface{}{"task": id, "duration_ms": time.Since(start).Milliseconds()})
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err != nil {
		t.count--
		t.lastErr = err
		attempts := t.Options.Attempts
		if attempts >= 0 && t.attempt >= attempts {
			t.status = StatusStopped
			t.failed = true
			logger.Emit("pulse", logger.LevelError, "task exhausted its retry budget",
				map[string]interface{}{"task": id, "attempt": t.attempt, "attempts": attempts, "error": err.Error()})
			return
		}
		t.attempt++
		t.status = StatusError
		logger.Emit("pulse", logger.LevelWarn, "task run failed, retrying",
			map[string]interface{}{"task": id, "attempt": t.attempt, "error": err.Error()})
		if t.pendingStop {
			t.pendingStop = false
			t.status = StatusStopped
			return
		}
		t.armLocked()
		return
	}

	t.lastErr = nil
	if t.repeat > 0 && t.count >= t.repeat {
		t.complete = true
		t.status = StatusStopped
		return
	}
	if t.pendingStop {
		t.pendingStop = false
		t.status = StatusStopped
		return
	}
	t.armLocked()
}

// runSafely recovers callback panics the way the teacher's scheduler
// recovers per-job panics, converting them into a regular error so fire
// can apply the same retry/failure accounting either way.
func (t *Task) runSafely(callback Run, params map[string]interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return callback(params, func(p float64) {
		t.mu.Lock()
		t.reported = p
		t.hasReported = true
		t.mu.Unlock()
	})
}
