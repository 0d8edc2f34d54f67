// Package destination holds the fan-out layer that receives finalized
// call-graph roots from the profiler scheduler and pushes them to
// whichever sinks are enabled: a rotating file, a TCP socket, a
// websocket live-tail, an OTel span exporter, or Tencent COS.
package destination

import (
	"context"
	"io"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/causalprof/profilomatic/pkg/parallel"
	"github.com/causalprof/profilomatic/pkg/profiler"
	"github.com/causalprof/profilomatic/pkg/utils"
)

// Fanout holds a list of sinks and dispatches each emitted root to each
// of them in turn, in registration order, isolating one sink's failure
// from the rest (spec 4.F).
type Fanout struct {
	logger        utils.Logger
	destinations  []profiler.Destination
	retryAttempts uint
	pool          parallel.PoolConfig
}

// NewFanout creates an empty Fanout. AddDestination appends sinks
// before the profiler is configured; the list is treated as
// append-only once profiling starts.
func NewFanout(logger utils.Logger) *Fanout {
	if logger == nil {
		logger = utils.GetGlobalLogger()
	}
	return &Fanout{logger: logger, retryAttempts: 3, pool: parallel.DefaultPoolConfig().WithWorkers(1)}
}

// AddDestination appends sink to the fan-out list.
func (f *Fanout) AddDestination(sink profiler.Destination) {
	f.destinations = append(f.destinations, sink)
}

// Name identifies the fan-out itself as a single profiler.Destination,
// so Fanout can be passed directly to profiler.Configure.
func (f *Fanout) Name() string { return "fanout" }

// Send pushes root to every registered sink via parallel.ForEach on a
// single worker, so sinks receive it one at a time in registration
// order, retrying each sink's Send independently against transient
// failures before logging it as a sink failure. One sink's exhausted
// retries do not stop the rest from receiving root, and ForEach's own
// first-error tracking is discarded here on purpose: Fanout never
// aborts the emission loop over a sink failure, it only logs it.
func (f *Fanout) Send(root *profiler.CallGraphRoot) error {
	_, _ = parallel.ForEach(context.Background(), f.destinations, f.pool, func(ctx context.Context, sink profiler.Destination) error {
		err := retry.Do(
			func() error { return sink.Send(root) },
			retry.Attempts(f.retryAttempts),
			retry.Delay(10*time.Millisecond),
			retry.DelayType(retry.BackOffDelay),
			retry.LastErrorOnly(true),
		)
		if err != nil {
			f.logger.Warn("destination %s: send failed after retries: %v", sink.Name(), err)
		}
		return nil
	})
	return nil
}

// Len reports how many sinks are registered, for diagnostics.
func (f *Fanout) Len() int {
	return len(f.destinations)
}

// Close releases any sink that holds a resource (an open file, a
// socket connection, a zstd encoder/decoder pair) by closing every
// destination that implements io.Closer. Sinks without state to
// release simply don't implement it. The first error encountered is
// returned after every sink has had a chance to close.
func (f *Fanout) Close() error {
	var firstErr error
	for _, sink := range f.destinations {
		closer, ok := sink.(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
