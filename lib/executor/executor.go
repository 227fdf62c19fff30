package executor

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("executor")

var (
	// ErrRejected is returned when a task is submitted to a stopping pool
	ErrRejected = errors.New("executor: task rejected, executor is shutting down")
	// ErrCancelled completes the future of a task that was cancelled before it ran
	ErrCancelled = errors.New("executor: task cancelled")
)

// FailureHandler receives every error and recovered panic of a task
type FailureHandler func(err error)

// Config holds the sizing of the two pools
type Config struct {
	// MinWorkers is the number of warm goroutines of the one-shot pool
	MinWorkers int
	// IdleTimeout is how long a surplus one-shot worker may idle before it exits
	IdleTimeout time.Duration
	// ScheduledWorkers is the fixed size of the scheduled pool
	ScheduledWorkers int
	// FailureHandler is called for failed tasks. Defaults to logging the error.
	FailureHandler FailureHandler
}

// DefaultConfig returns the configuration used by Default()
func DefaultConfig() *Config {
	return &Config{
		MinWorkers:       2,
		IdleTimeout:      60 * time.Second,
		ScheduledWorkers: 2,
	}
}

// --------------------------------------------------------------------------
// Executor
// --------------------------------------------------------------------------

// Executor bundles a one-shot pool for immediate work and a scheduled pool
// for delayed and periodic work, both reporting to the same failure handler.
//
// Thread-safety: All methods are thread-safe.
type Executor struct {
	oneShot   *OneShotPool
	scheduled *ScheduledPool
}

// New creates an executor and starts its workers. A nil config uses DefaultConfig().
// Non-positive sizes fall back to the defaults.
func New(cfg *Config) *Executor {
	def := DefaultConfig()
	if cfg == nil {
		cfg = def
	}

	minWorkers := cfg.MinWorkers
	if minWorkers < 0 {
		minWorkers = def.MinWorkers
	}
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = def.IdleTimeout
	}
	scheduled := cfg.ScheduledWorkers
	if scheduled <= 0 {
		scheduled = def.ScheduledWorkers
	}
	handler := cfg.FailureHandler
	if handler == nil {
		handler = logFailure
	}

	return &Executor{
		oneShot:   newOneShotPool(minWorkers, idle, handler),
		scheduled: newScheduledPool(scheduled, handler),
	}
}

func logFailure(err error) {
	log.Errorf("uncaught failure in task: %+v", err)
}

// Submit runs the task on the one-shot pool
func (e *Executor) Submit(task Task) (*Future, error) {
	return e.oneShot.Submit(task)
}

// Schedule runs the task once on the scheduled pool after delay
func (e *Executor) Schedule(delay time.Duration, task Task) (*Future, error) {
	return e.scheduled.Schedule(delay, task)
}

// ScheduleWithFixedDelay runs the task periodically on the scheduled pool
func (e *Executor) ScheduleWithFixedDelay(initialDelay, delay time.Duration, task Task) (*Future, error) {
	return e.scheduled.ScheduleWithFixedDelay(initialDelay, delay, task)
}

// OneShot returns the one-shot pool
func (e *Executor) OneShot() *OneShotPool {
	return e.oneShot
}

// Scheduled returns the scheduled pool
func (e *Executor) Scheduled() *ScheduledPool {
	return e.scheduled
}

// IsStopping reports whether either pool is shutting down
func (e *Executor) IsStopping() bool {
	return e.oneShot.IsStopping() || e.scheduled.IsStopping()
}

// Shutdown shuts both pools down gracefully
func (e *Executor) Shutdown() {
	log.Debugf("shutting down executor")
	e.oneShot.Shutdown()
	e.scheduled.Shutdown()
}

// ShutdownNow shuts both pools down, cancels running tasks and returns the
// tasks that never started
func (e *Executor) ShutdownNow() []Task {
	log.Debugf("shutting down executor now")
	tasks := e.oneShot.ShutdownNow()
	return append(tasks, e.scheduled.ShutdownNow()...)
}

// AwaitTermination waits for both pools with one shared budget: the one-shot
// pool first, the remainder for the scheduled pool.
func (e *Executor) AwaitTermination(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	if !e.oneShot.AwaitTermination(timeout) {
		return false
	}
	return e.scheduled.AwaitTermination(time.Until(deadline))
}

// --------------------------------------------------------------------------
// Process wide executor
// --------------------------------------------------------------------------

var (
	defaultMu   sync.Mutex
	defaultExec *Executor
)

// Default returns the process wide executor, creating it on first use
func Default() *Executor {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultExec == nil {
		defaultExec = New(nil)
	}
	return defaultExec
}

// SetDefault replaces the process wide executor. The previous one is not shut down.
func SetDefault(e *Executor) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultExec = e
}
