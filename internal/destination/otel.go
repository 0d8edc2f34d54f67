package destination

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/causalprof/profilomatic/pkg/profiler"
)

// OTel re-emits a finalized call-graph tree as an OpenTelemetry span
// tree: one root span per task_uuid, one child span per call-graph
// node, and a span event per interleaved log message. It rides on
// whatever TracerProvider pkg/telemetry.Init installed, so this sink
// is a no-op exporter when telemetry is disabled.
type OTel struct {
	tracer trace.Tracer
}

// NewOTel creates an OTel sink using the global tracer named after
// source, matching the span-naming convention pkg/telemetry uses
// elsewhere.
func NewOTel(source string) *OTel {
	if source == "" {
		source = "profilomatic"
	}
	return &OTel{tracer: otel.Tracer(source)}
}

// Name identifies this sink for Fanout's failure logging.
func (o *OTel) Name() string { return "otel" }

// Send walks root's Jsonize() record and emits the equivalent span
// tree, backdating each span's start/end to the call-graph node's own
// timestamps via trace.WithTimestamp so the trace reflects when the
// work actually happened, not when it was exported.
func (o *OTel) Send(root *profiler.CallGraphRoot) error {
	record := root.Jsonize()

	ctx, rootSpan := o.tracer.Start(context.Background(), fmt.Sprintf("task:%v", record["task_uuid"]))
	rootSpan.SetAttributes(
		attribute.String("task_uuid", fmt.Sprintf("%v", record["task_uuid"])),
		attribute.String("thread", fmt.Sprintf("%v", record["thread"])),
	)
	defer rootSpan.End()

	children, _ := record["children"].([]any)
	for _, c := range children {
		o.emit(ctx, c)
	}
	return nil
}

func (o *OTel) emit(ctx context.Context, raw any) {
	m, ok := raw.(map[string]any)
	if !ok {
		return
	}

	if _, isMessage := m["message"]; isMessage {
		o.emitMessageEvent(ctx, m)
		return
	}

	o.emitNodeSpan(ctx, m)
}

func (o *OTel) emitMessageEvent(ctx context.Context, m map[string]any) {
	span := trace.SpanFromContext(ctx)
	at := parseWallTime(m["message_time"])
	span.AddEvent("log", trace.WithTimestamp(at), trace.WithAttributes(
		attribute.String("message", fmt.Sprintf("%v", m["message"])),
	))
}

func (o *OTel) emitNodeSpan(ctx context.Context, m map[string]any) {
	instruction, _ := m["instruction"].(string)
	start := parseWallTime(m["start_time"])
	end := parseWallTime(m["end_time"])

	spanCtx, span := o.tracer.Start(ctx, instruction, trace.WithTimestamp(start))
	span.SetAttributes(
		attribute.Float64("time", toFloat(m["time"])),
		attribute.Float64("self_time", toFloat(m["self_time"])),
	)

	if children, ok := m["children"].([]any); ok {
		for _, c := range children {
			o.emit(spanCtx, c)
		}
	}

	span.End(trace.WithTimestamp(end))
}

func parseWallTime(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Now()
	}
	if t, err := time.Parse("2006-01-02T15:04:05.000000", s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t
	}
	return time.Now()
}

func toFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}
