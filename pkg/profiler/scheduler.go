package profiler

import (
	"context"
	"sync"
	"time"

	"github.com/causalprof/profilomatic/pkg/collections"
	"github.com/causalprof/profilomatic/pkg/utils"
)

// tickStat is one scheduler tick's timing, kept in a bounded ring
// buffer for control-API observability.
type tickStat struct {
	at       time.Time
	work     time.Duration
	sleep    time.Duration
	sampled  int
	rootsOut int
}

// Scheduler drives the adaptive sampling loop: on every tick it drains
// queued messages, snapshots every goroutine's stack,
// attributes self-time to whichever task each goroutine is presently
// running, finalizes and emits any CLOSED roots, then sleeps for an
// interval computed from how long that work took and max_overhead.
type Scheduler struct {
	cfg    Config
	core   *ingestCore
	clock  utils.Clock
	logger utils.Logger
	emit   func(*CallGraphRoot)

	selfGoroutine int64
	selfRoot      *CallGraphRoot // non-nil only when cfg.SelfProfile is set

	history *collections.RingBuffer[tickStat]
	histMu  sync.Mutex

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewScheduler wires a Scheduler around an already-constructed ingestCore.
// emit is called once per finalized root, in FIFO order, from the single
// scheduler goroutine: the same single-writer goroutine that owns every
// CallGraphRoot mutation, so emit sees a tree nothing else can still be
// mutating.
func NewScheduler(cfg Config, core *ingestCore, clock utils.Clock, logger utils.Logger, emit func(*CallGraphRoot)) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		core:    core,
		clock:   clock,
		logger:  logger,
		emit:    emit,
		history: collections.NewRingBuffer[tickStat](64),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Run executes the adaptive sampling loop until ctx is canceled or Stop
// is called. It is intended to run on its own goroutine and is the
// single writer for every CallGraphRoot the process creates.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.doneCh)

	selfID, _ := captureCurrentStack()
	s.selfGoroutine = selfID

	if s.cfg.SelfProfile {
		// Mirrors the original's --profile-profiler: a dedicated root
		// tracking the scheduler's own goroutine, fed from this same
		// loop rather than a second sampling thread, since only this
		// goroutine is allowed to mutate a CallGraphRoot.
		s.selfRoot = newCallGraphRoot(s.selfGoroutine, "profile", s.clock.Now(), monotonicSeconds())
		s.selfRoot.open()
	}

	tau := s.cfg.TimeGranularity
	if tau <= 0 {
		tau = 100 * time.Millisecond
	}

	for {
		select {
		case <-ctx.Done():
			s.drainFinal()
			return
		case <-s.stopCh:
			s.drainFinal()
			return
		default:
		}

		tickStart := s.clock.Now()

		s.core.drainMessages()

		stacks, err := snapshotGoroutines(s.selfGoroutine)
		if err != nil {
			s.logger.Warn("scheduler: goroutine snapshot failed: %v", err)
			stacks = nil
		}
		nowMonotonic := monotonicSeconds()
		s.core.applySample(stacks, 1.0/float64(time.Second)*float64(tau), nowMonotonic)

		closed := s.core.closedRoots()
		for _, r := range closed {
			s.emit(r)
		}

		work := s.clock.Since(tickStart)

		if s.selfRoot != nil {
			s.sampleSelf(work)
		}

		sleep := adaptiveSleep(tau, work, s.cfg.MaxOverhead)

		s.recordTick(tickStat{at: tickStart, work: work, sleep: sleep, sampled: len(stacks), rootsOut: len(closed)})

		select {
		case <-ctx.Done():
			s.drainFinal()
			return
		case <-s.stopCh:
			s.drainFinal()
			return
		case <-s.clock.After(sleep):
		}
	}
}

// adaptiveSleep implements the scheduler's adaptive pacing formula. tau is
// the configured time_granularity floor; work is how long the last
// sampling+emission pass took; overhead is max_overhead, the target
// fraction of wall-clock time the profiler itself may consume.
//
// Deriving phi from overhead: if a pass takes `work` seconds and we
// want work/(work+sleep) <= overhead, then sleep >= work*(1/overhead -
// 1). No library in this module's dependency set offers an adaptive
// duty-cycle pacing primitive, so this is a direct implementation of
// the formula rather than a wrapper around one.
func adaptiveSleep(tau, work time.Duration, overhead float64) time.Duration {
	if overhead <= 0 {
		overhead = 0.02
	}
	factor := 1/overhead - 1
	computed := time.Duration(float64(work) * factor)
	if computed < tau {
		return tau
	}
	return computed
}

// sampleSelf attributes this tick's own work duration to the scheduler's
// self-profile root, the same way applySample attributes a sample to an
// ordinary task's root.
func (s *Scheduler) sampleSelf(work time.Duration) {
	_, frames := captureCurrentStack()
	stack := extractStack(frames, Granularity(s.cfg.CodeGranularity), s.core.filter)
	s.selfRoot.Ingest(stack, work.Seconds(), monotonicSeconds(), nil)
	releaseStack(stack)
}

func (s *Scheduler) recordTick(t tickStat) {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	if s.history.IsFull() {
		s.history.Pop()
	}
	s.history.Push(t)
}

// TickHistory returns a snapshot of the most recent scheduler ticks,
// oldest first, for the control API's /stats endpoint.
func (s *Scheduler) TickHistory() []tickStat {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	n := s.history.Len()
	out := make([]tickStat, 0, n)
	for i := 0; i < n; i++ {
		v, ok := s.history.Pop()
		if !ok {
			break
		}
		out = append(out, v)
		s.history.Push(v)
	}
	return out
}

// drainFinal flushes any remaining queued messages, closes every root
// that is still OPEN as it stands, and emits all of them, so a Stop
// doesn't silently lose a task that finished between the last tick and
// shutdown or one that was still running.
func (s *Scheduler) drainFinal() {
	s.core.drainMessages()
	s.core.mu.Lock()
	for _, r := range s.core.roots {
		r.close()
	}
	s.core.mu.Unlock()
	for _, r := range s.core.closedRoots() {
		s.emit(r)
	}
	if s.selfRoot != nil {
		s.selfRoot.close()
		s.emit(s.selfRoot)
		s.selfRoot = nil
	}
}

// Stop signals Run to exit after finishing its current tick.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}
