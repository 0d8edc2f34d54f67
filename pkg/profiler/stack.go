package profiler

import (
	"bufio"
	"bytes"
	"runtime/pprof"
	"strconv"
	"strings"

	"github.com/causalprof/profilomatic/pkg/collections"
)

// stackPool reuses the []string buffers extractStack renders frames
// into. Safe to pool: CallGraphRoot.Ingest only ever copies individual
// string values out of the slice into node.instruction fields, never
// retaining the slice itself, so the backing array can be recycled as
// soon as Ingest returns.
var stackPool = collections.NewSlicePool[string](32)

// goroutineStack is one parsed block from a runtime/pprof goroutine
// dump: the goroutine id plus its frames, outermost first.
type goroutineStack struct {
	id     int64
	frames []frame
}

// snapshotGoroutines is the Go realization of component A's "raw
// per-thread frame chain" input. Python's sys._current_frames() hands
// back live frame objects with back-pointers; Go has no equivalent
// direct access, so this walks the textual dump produced by
// runtime/pprof's goroutine profile (debug=2 gives full file:line
// detail) and reduces it to owned frame snapshots. Frame objects are
// never retained past this call, matching the design note on cyclic /
// back-pointer frames.
func snapshotGoroutines(selfGoroutineID int64) ([]goroutineStack, error) {
	var buf bytes.Buffer
	if err := pprof.Lookup("goroutine").WriteTo(&buf, 2); err != nil {
		return nil, err
	}
	return parseGoroutineDump(buf.Bytes(), selfGoroutineID), nil
}

// parseGoroutineDump parses the debug=2 textual format:
//
//	goroutine 7 [running]:
//	pkg/foo.Bar(...)
//		/path/to/file.go:42 +0x19
//	pkg/foo.Baz(0x1, 0x2)
//		/path/to/other.go:17 +0x5
//
// Frames in the dump are innermost-first; the returned slice is
// reversed to outermost-first per the data model's Frame sample
// convention.
func parseGoroutineDump(data []byte, selfGoroutineID int64) []goroutineStack {
	var result []goroutineStack
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var cur *goroutineStack
	var pendingFn string

	flush := func() {
		if cur != nil && cur.id != selfGoroutineID {
			// reverse in place: dump is innermost-first, we want outermost-first.
			for i, j := 0, len(cur.frames)-1; i < j; i, j = i+1, j-1 {
				cur.frames[i], cur.frames[j] = cur.frames[j], cur.frames[i]
			}
			result = append(result, *cur)
		}
		cur = nil
		pendingFn = ""
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "goroutine "):
			flush()
			id := parseGoroutineID(line)
			cur = &goroutineStack{id: id}
		case cur == nil:
			continue
		case len(line) == 0:
			continue
		case line[0] == '\t' || line[0] == ' ':
			if pendingFn == "" {
				continue
			}
			file, lineNo := parseFileLine(strings.TrimSpace(line))
			cur.frames = append(cur.frames, frame{file: file, fn: pendingFn, line: lineNo})
			pendingFn = ""
		default:
			pendingFn = parseFuncName(line)
		}
	}
	flush()
	return result
}

// parseGoroutineID extracts the numeric id from "goroutine 7 [running]:".
func parseGoroutineID(line string) int64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return -1
	}
	id, _ := strconv.ParseInt(fields[1], 10, 64)
	return id
}

// parseFuncName strips the call-argument suffix from a frame header
// line, e.g. "pkg/foo.Bar(0x1, 0x2)" -> "pkg/foo.Bar".
func parseFuncName(line string) string {
	if idx := strings.LastIndex(line, "("); idx >= 0 {
		return line[:idx]
	}
	return line
}

// parseFileLine splits a "/path/to/file.go:42 +0x19" location line
// into its file and line number.
func parseFileLine(line string) (string, int) {
	line = strings.TrimSpace(line)
	if idx := strings.IndexByte(line, ' '); idx >= 0 {
		line = line[:idx]
	}
	colon := strings.LastIndexByte(line, ':')
	if colon < 0 {
		return line, 0
	}
	n, err := strconv.Atoi(line[colon+1:])
	if err != nil {
		return line, 0
	}
	return line[:colon], n
}

// extractStack applies a FrameFilter and renders the remaining frames
// to instructions at the given granularity, outermost first. The
// returned slice is borrowed from stackPool; callers must pass it to
// releaseStack once they're done reading it (after CallGraphRoot.Ingest
// returns).
func extractStack(frames []frame, g Granularity, filter *FrameFilter) []string {
	bufp := stackPool.Get()
	out := (*bufp)[:0]
	for _, f := range frames {
		if filter.Elide(f.file) || filter.Elide(f.fn) {
			continue
		}
		out = append(out, f.Instruction(g))
	}
	*bufp = out
	return out
}

// releaseStack returns a slice obtained from extractStack to stackPool.
func releaseStack(s []string) {
	stackPool.Put(&s)
}
