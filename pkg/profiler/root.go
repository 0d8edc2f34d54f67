package profiler

import (
	"sync/atomic"
	"time"
)

// rootState is the per-root state machine: INIT -> OPEN -> CLOSED.
type rootState int32

const (
	rootInit rootState = iota
	rootOpen
	rootClosed
)

// CallGraphRoot is the tree for one (thread, task_uuid, start_wall,
// start_monotonic) tuple. It holds a top-level children list; the
// first observed wall clock for the root pins the anchor, and every
// subsequent wall time is derived from it via monotonic delta, so clock
// skew after the first observation never perturbs the tree.
type CallGraphRoot struct {
	Thread   any
	TaskUUID string

	anchorWall      time.Time
	anchorMonotonic float64

	topChildren []child
	state       atomic.Int32
}

// newCallGraphRoot constructs a root pinned to the given anchor. The
// anchor is normally taken from the first message or sample that
// creates the root; the monotonic value it is paired with must
// come from the same clock reading the caller will later pass to
// Ingest, or all derived wall times will be off by a constant offset.
func newCallGraphRoot(thread any, taskUUID string, anchorWall time.Time, anchorMonotonic float64) *CallGraphRoot {
	r := &CallGraphRoot{
		Thread:          thread,
		TaskUUID:        taskUUID,
		anchorWall:      anchorWall,
		anchorMonotonic: anchorMonotonic,
	}
	r.state.Store(int32(rootInit))
	return r
}

func (r *CallGraphRoot) wallTime(nowMonotonic float64) time.Time {
	deltaSeconds := nowMonotonic - r.anchorMonotonic
	return r.anchorWall.Add(time.Duration(deltaSeconds * float64(time.Second)))
}

// open transitions INIT -> OPEN. A no-op once already OPEN or CLOSED.
func (r *CallGraphRoot) open() {
	r.state.CompareAndSwap(int32(rootInit), int32(rootOpen))
}

// close transitions to CLOSED, the terminal state that triggers
// emission. Safe to call more than once.
func (r *CallGraphRoot) close() {
	r.state.Store(int32(rootClosed))
}

func (r *CallGraphRoot) isClosed() bool {
	return rootState(r.state.Load()) == rootClosed
}

// Ingest merges one sample (and optionally one message) into the tree.
// stack is outermost-first, already reduced to instruction strings by
// the stack extractor. delta is the self-time to attribute to the
// innermost walked node; 0 is legal and used for message-only events.
// Returns false if the sample was rejected (a negative delta), so the
// caller can count it and otherwise discard it. A rejected sample adds
// no time anywhere, but nodes created while walking its stack stay in
// the tree with zero time.
func (r *CallGraphRoot) Ingest(stack []string, delta float64, nowMonotonic float64, message []byte) bool {
	nowWall := r.wallTime(nowMonotonic)

	var path []*node
	children := &r.topChildren
	if len(stack) == 0 {
		// No user code on the stack: the sample is charged to a
		// synthetic empty-instruction node rather than silently
		// discarded, since CallGraphRoot itself carries no time
		// fields in its serialized form (the output record only
		// gives CallGraphRoot a children list).
		n := descendInto(children, "", nowWall)
		path = append(path, n)
	} else {
		for _, instr := range stack {
			n := descendInto(children, instr, nowWall)
			path = append(path, n)
			children = &n.children
		}
	}

	innermost := path[len(path)-1]
	if !innermost.attribute(delta, nowWall) {
		return false
	}
	for i := len(path) - 2; i >= 0; i-- {
		path[i].addChildTime(delta, nowWall)
	}

	if message != nil {
		innermost.appendMessage(&messageRecord{message: message, messageTime: nowWall})
	}
	return true
}

// descendInto is the shared implementation behind CallGraphNode.descend
// (4.B) applied uniformly at both the root's top-level children list
// and every node's own children list.
func descendInto(children *[]child, instruction string, nowWall time.Time) *node {
	if n := len(*children); n > 0 {
		if last, ok := (*children)[n-1].(*node); ok && last.instruction == instruction {
			return last
		}
	}
	n := newNode(instruction, nowWall)
	*children = append(*children, n)
	return n
}
