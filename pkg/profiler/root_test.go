package profiler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTime(t *testing.T, layout, value string) time.Time {
	t.Helper()
	tm, err := time.Parse(layout, value)
	require.NoError(t, err)
	return tm
}

// TestCallGraphRoot_MergesRepeatedInstruction checks that two
// consecutive samples at the same instruction merge into one node and
// accumulate self_time.
func TestCallGraphRoot_MergesRepeatedInstruction(t *testing.T) {
	anchor := mustTime(t, "2006-01-02T15:04:05", "1988-01-01T09:00:00")
	root := newCallGraphRoot("thread1", "task-1", anchor, 0)

	ok := root.Ingest([]string{"__main__.py:main"}, 0.5, 0.5, nil)
	require.True(t, ok)
	ok = root.Ingest([]string{"__main__.py:main"}, 0.5, 1.0, nil)
	require.True(t, ok)

	require.Len(t, root.topChildren, 1)
	n, ok := root.topChildren[0].(*node)
	require.True(t, ok)
	assert.Equal(t, "__main__.py:main", n.instruction)
	assert.InDelta(t, 1.0, n.selfTime, 1e-9)
	assert.InDelta(t, 1.0, n.time, 1e-9)
}

// TestCallGraphRoot_SplitsOnMessage reproduces the node-splitting rule:
// a message between two identical-instruction samples forces the
// second sample into a new sibling node rather than merging with the
// first.
func TestCallGraphRoot_SplitsOnMessage(t *testing.T) {
	anchor := mustTime(t, "2006-01-02T15:04:05", "1988-01-01T09:00:00")
	root := newCallGraphRoot("thread1", "task-1", anchor, 0)

	require.True(t, root.Ingest([]string{"app.py:run"}, 0.1, 0.1, nil))
	require.True(t, root.Ingest(nil, 0, 0.2, []byte(`{"task_uuid":"task-1","action_status":"succeeded"}`)))
	require.True(t, root.Ingest([]string{"app.py:run"}, 0.1, 0.3, nil))

	// The message carries an empty stack, so it lands on a synthetic
	// empty-instruction node between the two app.py:run samples: the
	// three Ingest calls produce three distinct top-level children
	// rather than merging the two app.py:run samples together.
	require.Len(t, root.topChildren, 3)
	first := root.topChildren[0].(*node)
	third := root.topChildren[2].(*node)
	assert.Equal(t, "app.py:run", first.instruction)
	assert.Equal(t, "app.py:run", third.instruction)
	assert.NotSame(t, first, third)
}

// TestNode_DescendSplitsAroundMessage exercises node.descend /
// appendMessage directly: sample, message, sample at the same
// instruction must not merge across the message.
func TestNode_DescendSplitsAroundMessage(t *testing.T) {
	anchor := time.Now()
	parent := newNode("root", anchor)

	first := parent.descend("business/backend.py:doStuff", anchor)
	first.attribute(0.2, anchor.Add(200*time.Millisecond))

	parent.appendMessage(&messageRecord{
		message:     []byte(`{"hello":"world"}`),
		messageTime: anchor.Add(200 * time.Millisecond),
	})

	second := parent.descend("business/backend.py:doStuff", anchor.Add(300*time.Millisecond))
	second.attribute(0.1, anchor.Add(400*time.Millisecond))

	require.Len(t, parent.children, 3)
	assert.NotSame(t, first, second)
}

// TestCallGraphRoot_RejectsNegativeDelta checks that a negative
// self-time delta is never attributed, and that Ingest reports the
// rejection.
func TestCallGraphRoot_RejectsNegativeDelta(t *testing.T) {
	root := newCallGraphRoot("thread1", "task-1", time.Now(), 0)
	ok := root.Ingest([]string{"app.py:run"}, -0.1, 0, nil)
	assert.False(t, ok)
	require.Len(t, root.topChildren, 1)
	n := root.topChildren[0].(*node)
	assert.Equal(t, 0.0, n.selfTime)
}

// TestCallGraphRoot_ClockSkewImmunity covers clock-skew immunity: once
// the anchor is pinned from the first observation, a wall clock reading
// that runs backward afterward must not perturb derived timestamps,
// since only the monotonic delta matters.
func TestCallGraphRoot_ClockSkewImmunity(t *testing.T) {
	anchor := mustTime(t, "2006-01-02T15:04:05", "1988-01-01T09:00:00")
	root := newCallGraphRoot("thread1", "task-1", anchor, 10.0)

	// nowMonotonic=11.0 is one second after the anchor's monotonic
	// reading, so the derived wall time must be exactly one second
	// later regardless of what a concurrently skewed wall clock says.
	got := root.wallTime(11.0)
	want := mustTime(t, "2006-01-02T15:04:05", "1988-01-01T09:00:01")
	assert.True(t, got.Equal(want))
}

// TestCallGraphRoot_RepeatedDescent reproduces the repeated-descent
// scenario: the same instruction visited twice under a shared parent,
// separated first by a sibling instruction and then by a message,
// must stay as four distinct children rather than merging the two
// _innerDoIt visits into one.
func TestCallGraphRoot_RepeatedDescent(t *testing.T) {
	anchor := mustTime(t, "2006-01-02T15:04:05", "2016-01-21T09:00:00")
	root := newCallGraphRoot("thread1", "12345", anchor, 0)

	require.True(t, root.Ingest([]string{"main", "doIt", "_innerDoIt"}, 1.0, 1.0, nil))
	require.True(t, root.Ingest([]string{"main", "doIt", "_innerDoSomethingElse"}, 1.0, 2.0, nil))
	require.True(t, root.Ingest([]string{"main", "doIt", "_innerDoIt"}, 1.0, 3.0, nil))
	require.True(t, root.Ingest([]string{"main", "doIt"}, 1.0, 4.0, nil))
	require.True(t, root.Ingest([]string{"main", "doIt"}, 0.0, 4.5, []byte(`{"event":"something"}`)))
	require.True(t, root.Ingest([]string{"main", "doIt", "_innerDoIt"}, 1.0, 5.0, nil))

	require.Len(t, root.topChildren, 1)
	main := root.topChildren[0].(*node)
	assert.Equal(t, "main", main.instruction)
	assert.InDelta(t, 0.0, main.selfTime, 1e-9)
	assert.InDelta(t, 5.0, main.time, 1e-9)

	require.Len(t, main.children, 1)
	doIt := main.children[0].(*node)
	assert.Equal(t, "doIt", doIt.instruction)
	assert.InDelta(t, 1.0, doIt.selfTime, 1e-9)
	assert.InDelta(t, 5.0, doIt.time, 1e-9)

	require.Len(t, doIt.children, 4)

	firstInner := doIt.children[0].(*node)
	assert.Equal(t, "_innerDoIt", firstInner.instruction)
	assert.InDelta(t, 2.0, firstInner.selfTime, 1e-9)

	sibling := doIt.children[1].(*node)
	assert.Equal(t, "_innerDoSomethingElse", sibling.instruction)
	assert.InDelta(t, 1.0, sibling.selfTime, 1e-9)

	msg, ok := doIt.children[2].(*messageRecord)
	require.True(t, ok)
	assert.Equal(t, `{"event":"something"}`, string(msg.message))

	secondInner := doIt.children[3].(*node)
	assert.Equal(t, "_innerDoIt", secondInner.instruction)
	assert.InDelta(t, 1.0, secondInner.selfTime, 1e-9)
	assert.NotSame(t, firstInner, secondInner)
}

func TestCallGraphRoot_Jsonize(t *testing.T) {
	anchor := mustTime(t, "2006-01-02T15:04:05", "1988-01-01T09:00:00")
	root := newCallGraphRoot("thread1", "task-1", anchor, 0)
	require.True(t, root.Ingest([]string{"__main__.py:main"}, 0.5, 0.5, nil))

	out := root.Jsonize()
	assert.Equal(t, "task-1", out["task_uuid"])
	assert.Equal(t, "thread1", out["thread"])
	children, ok := out["children"].([]any)
	require.True(t, ok)
	require.Len(t, children, 1)
}
