// Package profiler implements the causal sampling profiler's data plane:
// stack extraction, call-graph assembly, message ingestion, adaptive
// scheduling, and destination fan-out.
package profiler

import (
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Granularity controls how much of a code location is baked into an
// Instruction key.
type Granularity string

const (
	GranularityFile   Granularity = "file"
	GranularityMethod Granularity = "method"
	GranularityLine   Granularity = "line"
)

// ParseGranularity parses a configuration string into a Granularity,
// defaulting to GranularityLine on anything unrecognized.
func ParseGranularity(s string) Granularity {
	switch Granularity(strings.ToLower(s)) {
	case GranularityFile:
		return GranularityFile
	case GranularityMethod:
		return GranularityMethod
	default:
		return GranularityLine
	}
}

// frame is a single owned snapshot of a code location, captured once at
// sample time and never referencing runtime internals afterward.
type frame struct {
	file string
	fn   string
	line int
}

// Instruction renders a frame to the configured granularity. Equality of
// adjacent instructions in a stack is what drives call-graph tree merges.
func (f frame) Instruction(g Granularity) string {
	switch g {
	case GranularityFile:
		return f.file
	case GranularityMethod:
		return f.file + ":" + f.fn
	default:
		return f.file + ":" + f.fn + ":" + strconv.Itoa(f.line)
	}
}

// FrameFilter elides frames belonging to the profiler itself (or to a
// host log framework's action machinery) so profiling code never leaks
// into user-visible stacks. Matching is by prefix of a frame's file path
// or of its import-path-qualified function name, memoized per string
// since the same handful of paths and names recur across almost every
// sample.
type FrameFilter struct {
	prefixes []string
	cache    *lru.Cache[string, bool]
}

// NewFrameFilter builds a filter that elides any frame whose file path
// or function name starts with one of the given prefixes.
func NewFrameFilter(prefixes ...string) *FrameFilter {
	cache, _ := lru.New[string, bool](4096)
	return &FrameFilter{prefixes: prefixes, cache: cache}
}

// Elide reports whether the given string (a frame's file path or
// function name) matches an elided prefix.
func (f *FrameFilter) Elide(file string) bool {
	if f == nil || len(f.prefixes) == 0 {
		return false
	}
	if v, ok := f.cache.Get(file); ok {
		return v
	}
	elide := false
	for _, p := range f.prefixes {
		if strings.HasPrefix(file, p) {
			elide = true
			break
		}
	}
	f.cache.Add(file, elide)
	return elide
}

// DefaultElidedPrefixes are the function-name prefixes of the profiler
// package itself and of the Go runtime, so the profiler's own frames
// never appear in a sampled application stack.
var DefaultElidedPrefixes = []string{
	"github.com/causalprof/profilomatic/pkg/profiler",
	"runtime.",
}
