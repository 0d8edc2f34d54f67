package profiler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/sjson"

	"github.com/causalprof/profilomatic/pkg/collections"
)

// runKey identifies one distinct call-graph root: a (goroutine, task)
// pair. Two different goroutines that happen to share a task_uuid (a
// child task handed across a worker pool) get independent roots, since
// the sampling tick always attributes a goroutine's current stack to
// whichever task that specific goroutine is presently running.
type runKey struct {
	thread   int64
	taskUUID string
}

// threadState is the per-goroutine bookkeeping the ingestion core keeps:
// which task the goroutine is presently inside, and the stack of tasks
// it suspended to get there. collections.Stack[string] is reused here
// as the "task call stack" a single goroutine accumulates as it starts
// nested child actions.
type threadState struct {
	active collections.Stack[string]
}

// ingestCore is the single-writer structure backing HandleMessage and
// the scheduler's sampling tick. Every mutating
// method is only ever called from the one profiler goroutine that owns
// it; HandleMessage itself only pushes onto the wait-free queue and
// never touches these fields, preserving the single-writer invariant
// the call-graph tree relies on (no locking inside CallGraphRoot).
type ingestCore struct {
	cfg    Config
	filter *FrameFilter

	queue *messageQueue

	mu      sync.Mutex
	threads map[int64]*threadState
	roots   map[runKey]*CallGraphRoot
	order   []runKey // emission order: oldest root first

	actionsThisRun int                 // count of top-level (stack-empty-before-push) started events admitted this run
	blockedTasks   map[string]struct{} // task_uuids whose top-level start was rejected by max_actions_per_run

	dropped     atomic.Int64
	malformed   atomic.Int64
	capExceeded atomic.Int64
}

func newIngestCore(cfg Config, filter *FrameFilter) *ingestCore {
	return &ingestCore{
		cfg:          cfg,
		filter:       filter,
		queue:        newMessageQueue(),
		threads:      make(map[int64]*threadState),
		roots:        make(map[runKey]*CallGraphRoot),
		blockedTasks: make(map[string]struct{}),
	}
}

// HandleMessage is the wait-free entry point application goroutines call
// from their logging hook. It does the minimum possible work on the
// caller's goroutine: capture this goroutine's own stack, classify the
// two fields the core cares about, and enqueue, deferring all tree
// mutation to the profiler goroutine's next drain. NextTaskUUID is left
// unset here on purpose: it depends on the per-thread active-task stack,
// which only the single-writer applyMessage may read or mutate, so it is
// filled in there instead.
func (c *ingestCore) HandleMessage(raw []byte) {
	raw = c.tagSourceName(raw)

	_, _, ok := classifyMessage(raw)
	if !ok {
		c.malformed.Add(1)
		return
	}
	thread, frames := captureCurrentStack()
	c.queue.push(&MessageInfo{
		Message:   raw,
		Thread:    thread,
		Monotonic: monotonicSeconds(),
		Clock:     time.Now(),
		frames:    frames,
	})
}

// tagSourceName patches source_name onto the passthrough payload before
// it ever reaches the queue, so every destination sees it on the raw
// message bytes without the ingestion core needing to special-case it
// downstream. sjson.SetBytes edits in place rather than
// unmarshal-then-marshal, leaving the rest of the caller's field order
// and byte content untouched. A patch failure (malformed caller JSON)
// just falls back to the original bytes; classifyMessage's own
// malformed handling catches it from there.
func (c *ingestCore) tagSourceName(raw []byte) []byte {
	if c.cfg.SourceName == "" {
		return raw
	}
	tagged, err := sjson.SetBytes(raw, "source_name", c.cfg.SourceName)
	if err != nil {
		return raw
	}
	return tagged
}

// drainMessages applies every queued MessageInfo to the tree. Called
// once per scheduler tick from the single profiler goroutine.
func (c *ingestCore) drainMessages() {
	msgs := c.queue.drainAll()
	for _, m := range msgs {
		c.applyMessage(m)
	}
}

// applyMessage is the single-writer handler: it owns every thread's
// active-task stack and every CallGraphRoot. It distinguishes two
// things a message carries that are easy to conflate: the task its own
// content routes to, and the task attribution for samples that arrive
// after it.
//
// Routing is simple for started/succeeded/failed messages: they always
// carry their own task_uuid, so that's where their content lands. Only a
// message with no action_status (mid-action log chatter) has no task of
// its own. It routes to whatever task the thread was already inside
// before this message arrived.
//
// Attribution going forward is the thread's active-task stack after this
// message's push or pop is applied, and is reported back to the caller
// as NextTaskUUID; it is a different value from the routing target
// whenever this message itself closes a nested task.
func (c *ingestCore) applyMessage(m *MessageInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	taskUUID, status, ok := classifyMessage(m.Message)
	if !ok {
		c.malformed.Add(1)
		return
	}

	ts := c.threadFor(m.Thread)
	activeBefore, hadActiveBefore := ts.active.Peek()

	switch status {
	case actionStarted:
		ts.active.Push(taskUUID)
	case actionSucceeded, actionFailed:
		if top, okPop := ts.active.Peek(); okPop && top == taskUUID {
			ts.active.Pop()
		}
	}

	if next, ok := ts.active.Peek(); ok {
		m.NextTaskUUID = next
	} else {
		m.NextTaskUUID = ""
	}

	routeTask, hasRoute := taskUUID, true
	if status == "" {
		routeTask, hasRoute = activeBefore, hadActiveBefore
	}

	if status == "" && (!c.cfg.StoreAllLogs || !hasRoute) {
		// store_all_logs=false drops bare passthrough chatter outright;
		// a message with no action_status and no active task for this
		// thread is dropped regardless of store_all_logs, since there is
		// nothing to attach it to.
		c.dropped.Add(1)
		return
	}

	if status == actionStarted && !hadActiveBefore {
		// Only a top-level start (no action already running on this
		// thread) counts against the per-run cap; a nested child task
		// rides on its parent's admission.
		if c.cfg.MaxActionsPerRun > 0 && c.actionsThisRun >= c.cfg.MaxActionsPerRun {
			c.blockedTasks[taskUUID] = struct{}{}
			c.capExceeded.Add(1)
			return
		}
		c.actionsThisRun++
	}

	if _, blocked := c.blockedTasks[routeTask]; blocked {
		c.capExceeded.Add(1)
		if status == actionSucceeded || status == actionFailed {
			delete(c.blockedTasks, routeTask)
		}
		return
	}

	root := c.rootFor(m.Thread, routeTask, m.Clock, m.Monotonic)
	if root == nil {
		// simultaneous_tasks_profiled is full and no slot is free for
		// this task_uuid.
		c.dropped.Add(1)
		return
	}
	root.open()

	stack := extractStack(m.frames, Granularity(c.cfg.CodeGranularity), c.filter)
	ingested := root.Ingest(stack, 0, m.Monotonic, m.Message)
	releaseStack(stack)
	if !ingested {
		c.dropped.Add(1)
		return
	}

	if status == actionSucceeded || status == actionFailed {
		root.close()
	}
}

// applySample attributes one scheduler-tick sample of self-time to
// whichever task each goroutine is presently running. Goroutines with
// no currently open task are skipped: the profiler only ever attributes
// time to a task a Started action has opened. A goroutine whose task
// never got a root (simultaneous_tasks_profiled was full at the time)
// is skipped the same way, since there is no root to attach the sample
// to.
func (c *ingestCore) applySample(stacks []goroutineStack, delta float64, nowMonotonic float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, gs := range stacks {
		ts, ok := c.threads[gs.id]
		if !ok {
			continue
		}
		taskUUID, ok := ts.active.Peek()
		if !ok {
			continue
		}
		root, ok := c.roots[runKey{thread: gs.id, taskUUID: taskUUID}]
		if !ok {
			continue
		}
		stack := extractStack(gs.frames, Granularity(c.cfg.CodeGranularity), c.filter)
		accepted := root.Ingest(stack, delta, nowMonotonic, nil)
		releaseStack(stack)
		if !accepted {
			c.dropped.Add(1)
		}
	}
}

func (c *ingestCore) threadFor(thread int64) *threadState {
	ts, ok := c.threads[thread]
	if !ok {
		ts = &threadState{active: *collections.NewStack[string](4)}
		c.threads[thread] = ts
	}
	return ts
}

// rootFor returns the live root for (thread, taskUUID), creating one if
// this is the task's first message, unless doing so would exceed
// simultaneous_tasks_profiled. Overflow tasks get no root at all: their
// messages are dropped until an existing root closes and frees a slot,
// which gives FIFO-by-arrival admission for free since an
// already-admitted task keeps its slot for as long as it stays open.
func (c *ingestCore) rootFor(thread int64, taskUUID string, wallHint time.Time, nowMonotonic float64) *CallGraphRoot {
	key := runKey{thread: thread, taskUUID: taskUUID}
	if r, ok := c.roots[key]; ok {
		return r
	}
	if limit := c.cfg.SimultaneousTasksProfiled; limit > 0 && len(c.roots) >= limit {
		return nil
	}
	r := newCallGraphRoot(thread, taskUUID, wallHint, nowMonotonic)
	c.roots[key] = r
	c.order = append(c.order, key)
	return r
}

// closedRoots removes and returns every CallGraphRoot currently in the
// CLOSED state, in the order their tasks first opened (FIFO), for the
// scheduler to hand to the destination fan-out.
func (c *ingestCore) closedRoots() []*CallGraphRoot {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*CallGraphRoot
	remaining := c.order[:0]
	for _, key := range c.order {
		r := c.roots[key]
		if r.isClosed() {
			out = append(out, r)
			delete(c.roots, key)
		} else {
			remaining = append(remaining, key)
		}
	}
	c.order = remaining
	return out
}

func (c *ingestCore) stats() (dropped, malformed, capExceeded int64, queued int) {
	return c.dropped.Load(), c.malformed.Load(), c.capExceeded.Load(), c.queue.len()
}
