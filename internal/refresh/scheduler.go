package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

// minTick floors the scheduler tick to prevent CPU thrashing.
const minTick = time.Second

// Target is one collection to reload.
type Target struct {
	// Name identifies the target in results and logs. Names must be unique.
	Name string

	// Interval is how often the target runs. If 0, the scheduler's default
	// interval is used.
	Interval time.Duration

	// Run performs one reload.
	Run func(ctx context.Context) error
}

// Result is the outcome of running a target once.
type Result struct {
	// Name is the target name.
	Name string

	// Duration is how long the run took.
	Duration time.Duration

	// At is when the run finished.
	At time.Time

	// Err is the error returned by the run, if any.
	Err error
}

// Scheduler runs targets periodically with bounded concurrency.
//
// All lifecycle methods (Start, Stop) are safe for concurrent use.
type Scheduler struct {
	targets        []Target
	interval       time.Duration
	maxConcurrency int
	results        chan Result
	logger         *slog.Logger
	cancel         context.CancelFunc
	wg             sync.WaitGroup

	mu        sync.Mutex
	started   bool
	stopped   bool
	closeOnce sync.Once

	lastRunAt map[string]time.Time
	tick      time.Duration
}

// NewScheduler creates a [Scheduler].
//
// Parameters:
//   - targets: Targets to run
//   - interval: Default interval for targets that do not set one
//   - maxConcurrency: Maximum number of targets running at once
//   - logger: Logger for scheduler events (panic recovery, etc.)
//
// The scheduler must be started with [Scheduler.Start] and stopped with
// [Scheduler.Stop].
func NewScheduler(targets []Target, interval time.Duration, maxConcurrency int, logger *slog.Logger) *Scheduler {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Scheduler{
		targets:        targets,
		interval:       interval,
		maxConcurrency: maxConcurrency,
		results:        make(chan Result, len(targets)),
		logger:         logger,
	}
}

// Results returns a receive-only channel that emits a [Result] per run.
//
// The channel is closed when the scheduler stops. Consumers should read
// until it is closed.
func (s *Scheduler) Results() <-chan Result {
	return s.results
}

// Tick returns the interval the scheduler checks for due targets at. It is
// only meaningful after [Scheduler.Start].
func (s *Scheduler) Tick() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// tickInterval is the GCD of all target intervals, floored at minTick.
func (s *Scheduler) tickInterval() time.Duration {
	if len(s.targets) == 0 {
		return max(s.interval, minTick)
	}

	result := time.Duration(0)
	for _, t := range s.targets {
		result = gcd(result, s.intervalOf(t))
	}
	return max(result, minTick)
}

func (s *Scheduler) intervalOf(t Target) time.Duration {
	if t.Interval > 0 {
		return t.Interval
	}
	return s.interval
}

func gcd(a, b time.Duration) time.Duration {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// Start begins the refresh loop in a background goroutine.
//
// Targets are not run immediately: the first run of each happens one
// interval after Start. Start is idempotent. If Stop was called before
// Start, Start is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.tick = s.tickInterval()
	now := time.Now()
	s.lastRunAt = make(map[string]time.Time, len(s.targets))
	for _, t := range s.targets {
		s.lastRunAt[t.Name] = now
	}

	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	tick := s.tick
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.closeOnce.Do(func() { close(s.results) })

		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.runDue(runCtx)
			}
		}
	}()
}

// Stop halts the scheduler and waits for in-flight runs to finish.
//
// Stop is idempotent and safe to call before Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		if s.cancel != nil {
			s.cancel()
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.closeOnce.Do(func() { close(s.results) })
}

// runDue runs the targets whose interval has elapsed.
//
// lastRunAt is updated when a run starts, so a slow target is never run
// twice concurrently.
func (s *Scheduler) runDue(ctx context.Context) {
	now := time.Now()
	due := make([]Target, 0, len(s.targets))

	s.mu.Lock()
	for _, t := range s.targets {
		if now.Sub(s.lastRunAt[t.Name]) >= s.intervalOf(t) {
			due = append(due, t)
			s.lastRunAt[t.Name] = now
		}
	}
	s.mu.Unlock()

	if len(due) > 0 {
		s.runAll(ctx, due)
	}
}

// runAll runs targets concurrently, respecting maxConcurrency.
func (s *Scheduler) runAll(ctx context.Context, targets []Target) {
	jobs := make(chan Target, len(targets))

	var wg sync.WaitGroup
	for i := 0; i < min(s.maxConcurrency, len(targets)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				result := s.run(ctx, t)
				select {
				case s.results <- result:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for _, t := range targets {
		jobs <- t
	}
	close(jobs)

	wg.Wait()
}

// run executes a single target with panic recovery. A panic is logged with
// its stack and a correlation ID, and reported as an error carrying the ID.
func (s *Scheduler) run(ctx context.Context, t Target) (result Result) {
	start := time.Now()
	result.Name = t.Name

	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			s.logger.Error("refresh panic",
				"correlation_id", correlationID,
				"target", t.Name,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			result.Err = fmt.Errorf("refresh panic (correlation_id: %s)", correlationID)
		}
		result.Duration = time.Since(start)
		result.At = time.Now()
	}()

	result.Err = t.Run(ctx)
	return result
}
