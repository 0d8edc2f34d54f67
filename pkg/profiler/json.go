package profiler

import (
	"bytes"

	jsoniter "github.com/json-iterator/go"

	"github.com/causalprof/profilomatic/pkg/writer"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

var jsonRecordWriter = writer.NewJSONWriter[map[string]any]()

// Jsonize emits the structured output record: a task_uuid / thread
// header plus the recursively serialized children.
// Once a root has been dispatched to destinations it must not be
// mutated again; each destination calls Jsonize (directly or through
// ToJSON) on the finalized tree, so one root may be serialized once per
// sink.
func (r *CallGraphRoot) Jsonize() map[string]any {
	return map[string]any{
		"task_uuid": r.TaskUUID,
		"thread":    r.Thread,
		"children":  jsonizeChildren(r.topChildren),
	}
}

// ToJSON marshals the Jsonize() record to wire bytes through
// pkg/writer's jsoniter-backed JSONWriter, the shared encoder every
// destination's wire encoding goes through (lower overhead than
// encoding/json on the hot finalize-and-emit path).
func (r *CallGraphRoot) ToJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := jsonRecordWriter.Write(r.Jsonize(), &buf); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	// encoding/json-style Encoder.Encode appends a trailing newline;
	// ToJSON's callers append their own framing, so trim it here to
	// keep the marshaled bytes identical to a bare Marshal call.
	if n := len(out); n > 0 && out[n-1] == '\n' {
		out = out[:n-1]
	}
	return out, nil
}

func jsonizeChildren(children []child) []any {
	out := make([]any, 0, len(children))
	for _, c := range children {
		out = append(out, jsonizeChild(c))
	}
	return out
}

func jsonizeChild(c child) any {
	switch v := c.(type) {
	case *node:
		return jsonizeNode(v)
	case *messageRecord:
		return jsonizeMessage(v)
	default:
		return nil
	}
}

func jsonizeNode(n *node) map[string]any {
	m := map[string]any{
		"instruction": n.instruction,
		"start_time":  formatWallTime(n.startTime),
		"end_time":    formatWallTime(n.endTime),
		"time":        n.time,
		"self_time":   n.selfTime,
	}
	if len(n.children) > 0 {
		m["children"] = jsonizeChildren(n.children)
	}
	return m
}

func jsonizeMessage(r *messageRecord) map[string]any {
	var payload any
	if len(r.message) > 0 {
		_ = jsonAPI.Unmarshal(r.message, &payload)
	}
	return map[string]any{
		"message":      payload,
		"message_time": formatWallTime(r.messageTime),
	}
}
