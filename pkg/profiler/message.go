package profiler

import (
	"runtime"
	"time"

	"github.com/tidwall/gjson"
)

// processStart anchors this process's monotonic clock. time.Since of a
// value produced by time.Now() is guaranteed by the runtime to use the
// monotonic reading embedded in that time.Time, never the wall clock.
var processStart = time.Now()

func monotonicSeconds() float64 {
	return time.Since(processStart).Seconds()
}

const (
	actionStarted   = "started"
	actionSucceeded = "succeeded"
	actionFailed    = "failed"
)

// MessageInfo is the record captured at log time: the raw message
// payload, a snapshot of the calling goroutine's stack, and both clock
// readings. NextTaskUUID is the thread's active task once this message's
// own push or pop has been applied; it is left zero at enqueue time and
// filled in by applyMessage, since only the single-writer goroutine may
// read the per-thread active-task stack it depends on.
type MessageInfo struct {
	Message      []byte
	NextTaskUUID string
	Thread       int64
	Monotonic    float64
	Clock        time.Time
	frames       []frame
}

// classifyMessage inspects only the two fields the core ever reads
// (task_uuid, action_status) without a full unmarshal, per the design
// note on dynamic message payloads.
func classifyMessage(raw []byte) (taskUUID string, actionStatus string, ok bool) {
	taskUUIDResult := gjson.GetBytes(raw, "task_uuid")
	if !taskUUIDResult.Exists() || taskUUIDResult.Type != gjson.String {
		return "", "", false
	}
	status := gjson.GetBytes(raw, "action_status").String()
	switch status {
	case "", actionStarted, actionSucceeded, actionFailed:
		return taskUUIDResult.String(), status, true
	default:
		// An action_status outside the three known values is malformed.
		return "", "", false
	}
}

// captureCurrentStack snapshots the calling goroutine's own stack,
// without the cost of dumping every goroutine in the process (that
// full enumeration is reserved for the scheduler's sampling tick).
func captureCurrentStack() (int64, []frame) {
	buf := make([]byte, 16*1024)
	for {
		n := runtime.Stack(buf, false)
		if n < len(buf) {
			buf = buf[:n]
			break
		}
		buf = make([]byte, len(buf)*2)
	}
	stacks := parseGoroutineDump(buf, -1)
	if len(stacks) == 0 {
		return -1, nil
	}
	return stacks[0].id, stacks[0].frames
}
