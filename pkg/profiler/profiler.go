package profiler

import (
	"context"
	"sync"
	"sync/atomic"

	apperrors "github.com/causalprof/profilomatic/pkg/errors"
	"github.com/causalprof/profilomatic/pkg/utils"
)

// Destination receives each finalized CallGraphRoot. Implementations
// live in internal/destination; this package only depends on the
// narrow interface so the data plane never imports transport code.
type Destination interface {
	Name() string
	Send(root *CallGraphRoot) error
}

// Profiler is the package-level singleton applications call into from
// their logging hook, mirroring the original library's module-level
// "the profiler" object: one process has at most one active profiler,
// configured once and stopped once.
type Profiler struct {
	cfg          Config
	logger       utils.Logger
	core         *ingestCore
	scheduler    *Scheduler
	destinations []Destination

	cancel context.CancelFunc
	runWG  sync.WaitGroup

	configured atomic.Bool
}

var (
	activeMu     sync.Mutex
	activeProf   *Profiler
)

// Configure builds, starts, and installs the process-wide Profiler.
// Calling Configure while one is already active returns
// CodeAlreadyConfigured rather than silently replacing it, since two
// schedulers racing over the same goroutine dump would double-count
// self-time.
func Configure(cfg Config, logger utils.Logger, clock utils.Clock, destinations ...Destination) (*Profiler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	activeMu.Lock()
	defer activeMu.Unlock()
	if activeProf != nil {
		return nil, apperrors.New(apperrors.CodeAlreadyConfigured, "profiler already configured for this process")
	}

	if logger == nil {
		logger = utils.GetGlobalLogger()
	}
	if clock == nil {
		clock = utils.NewRealClock()
	}

	filter := NewFrameFilter(cfg.ElidedPrefixes...)
	core := newIngestCore(cfg, filter)

	p := &Profiler{
		cfg:          cfg,
		logger:       logger,
		core:         core,
		destinations: destinations,
	}

	p.scheduler = NewScheduler(cfg, core, clock, logger, p.emit)

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.runWG.Add(1)
	go func() {
		defer p.runWG.Done()
		p.scheduler.Run(ctx)
	}()

	p.configured.Store(true)
	activeProf = p
	return p, nil
}

// HandleMessage routes a raw log-message payload into the active
// profiler. It is the function an application's logging destination
// calls for every emitted message.
func (p *Profiler) HandleMessage(raw []byte) {
	if p == nil || !p.configured.Load() {
		return
	}
	p.core.HandleMessage(raw)
}

func (p *Profiler) emit(root *CallGraphRoot) {
	for _, d := range p.destinations {
		if err := d.Send(root); err != nil {
			p.logger.Warn("profiler: destination %s failed: %v", d.Name(), err)
		}
	}
}

// Stats reports the counters the ingestion core and scheduler
// accumulate, for the control API's /stats endpoint.
type Stats struct {
	Dropped         int64
	Malformed       int64
	CapExceeded     int64
	Queued          int
	TickHistory     []tickStat
}

// Stats returns a snapshot of the profiler's current counters.
func (p *Profiler) Stats() Stats {
	dropped, malformed, capExceeded, queued := p.core.stats()
	return Stats{
		Dropped:     dropped,
		Malformed:   malformed,
		CapExceeded: capExceeded,
		Queued:      queued,
		TickHistory: p.scheduler.TickHistory(),
	}
}

// Stop halts the scheduler, flushes any in-flight roots to the
// destinations, and clears the process-wide singleton so Configure can
// be called again. Calling Stop twice returns CodeAlreadyStopped.
func (p *Profiler) Stop() error {
	activeMu.Lock()
	defer activeMu.Unlock()
	if !p.configured.CompareAndSwap(true, false) {
		return apperrors.New(apperrors.CodeAlreadyStopped, "profiler already stopped")
	}
	p.cancel()
	p.scheduler.Stop()
	p.runWG.Wait()
	if activeProf == p {
		activeProf = nil
	}
	return nil
}

// Current returns the process-wide active Profiler, or nil if none is
// configured.
func Current() *Profiler {
	activeMu.Lock()
	defer activeMu.Unlock()
	return activeProf
}
