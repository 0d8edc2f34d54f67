package profiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDump = `goroutine 7 [running]:
business/app.py.__init__(0x1)
	/src/business/app.py:12 +0x19
__main__.py.main(...)
	/src/__main__.py:3 +0x5

goroutine 9 [chan receive]:
runtime.gopark(...)
	/usr/lib/go/src/runtime/proc.go:398 +0xd6
`

func TestParseGoroutineDump(t *testing.T) {
	stacks := parseGoroutineDump([]byte(sampleDump), -1)
	require.Len(t, stacks, 2)

	first := stacks[0]
	assert.Equal(t, int64(7), first.id)
	require.Len(t, first.frames, 2)
	// dump is innermost-first; parsed result must be outermost-first.
	assert.Equal(t, "__main__.py.main", first.frames[0].fn)
	assert.Equal(t, "business/app.py.__init__", first.frames[1].fn)
	assert.Equal(t, 12, first.frames[1].line)
}

func TestParseGoroutineDump_SkipsSelf(t *testing.T) {
	stacks := parseGoroutineDump([]byte(sampleDump), 9)
	require.Len(t, stacks, 1)
	assert.Equal(t, int64(7), stacks[0].id)
}

func TestExtractStack_AppliesFilter(t *testing.T) {
	filter := NewFrameFilter("runtime.")
	frames := []frame{
		{file: "runtime.", fn: "gopark", line: 1},
		{file: "business/app.py", fn: "run", line: 5},
	}
	out := extractStack(frames, GranularityMethod, filter)
	require.Len(t, out, 1)
	assert.Equal(t, "business/app.py:run", out[0])
}

func TestFrameInstruction_Granularities(t *testing.T) {
	f := frame{file: "business/app.py", fn: "run", line: 5}
	assert.Equal(t, "business/app.py", f.Instruction(GranularityFile))
	assert.Equal(t, "business/app.py:run", f.Instruction(GranularityMethod))
	assert.Equal(t, "business/app.py:run:5", f.Instruction(GranularityLine))
}
