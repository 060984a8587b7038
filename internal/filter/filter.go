// Package filter decides whether a single event satisfies a per-event-type
// filter. Evaluation is pure; everything that can fail (regex compilation,
// bound ordering) happens when the Spec is built.
package filter

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"ccbell/internal/event"
	"ccbell/pkg/opt"
)

var (
	ErrBoundOrder    = errors.New("min must be <= max")
	ErrNegativeBound = errors.New("bound must be >= 0")
	ErrEmptyPattern  = errors.New("regex is required")
)

// Ordered is the set of quantities a Bound can constrain.
type Ordered interface {
	~int64 | ~float64
}

// Bound is an inclusive [Min, Max] constraint; either side may be absent.
type Bound[T Ordered] struct {
	Min opt.Value[T]
	Max opt.Value[T]
}

// NewBound validates that present bounds are non-negative and ordered.
func NewBound[T Ordered](min, max opt.Value[T]) (Bound[T], error) {
	lo, hasLo := min.Get()
	hi, hasHi := max.Get()
	if (hasLo && lo < 0) || (hasHi && hi < 0) {
		return Bound[T]{}, ErrNegativeBound
	}
	if hasLo && hasHi && lo > hi {
		return Bound[T]{}, ErrBoundOrder
	}
	return Bound[T]{Min: min, Max: max}, nil
}

// Contains reports whether v satisfies every present side of the bound.
func (b Bound[T]) Contains(v T) bool {
	if lo, ok := b.Min.Get(); ok && v < lo {
		return false
	}
	if hi, ok := b.Max.Get(); ok && v > hi {
		return false
	}
	return true
}

// Pattern requires the message to match (or, inverted, to not match) Regex.
type Pattern struct {
	Regex  *regexp.Regexp
	Invert bool
}

// CompilePattern compiles expr; invalid expressions are rejected here so that
// evaluation never has to.
func CompilePattern(expr string, invert bool) (Pattern, error) {
	if expr == "" {
		return Pattern{}, ErrEmptyPattern
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("invalid regex %q: %w", expr, err)
	}
	return Pattern{Regex: re, Invert: invert}, nil
}

// Passes applies search semantics: a match anywhere in msg counts.
func (p Pattern) Passes(msg string) bool {
	if p.Regex == nil {
		panic("filter: pattern without compiled regex")
	}
	matched := p.Regex.MatchString(msg)
	return matched == !p.Invert
}

// Spec is the compiled filter for one event type. The zero Spec has no
// sub-filters and passes everything.
type Spec struct {
	TokenCount opt.Value[Bound[int64]]
	Duration   opt.Value[Bound[time.Duration]]
	Pattern    opt.Value[Pattern]
	ToolCalls  opt.Value[bool]
}

// Empty reports whether no sub-filter is configured.
func (s Spec) Empty() bool {
	return !s.TokenCount.Present() && !s.Duration.Present() && !s.Pattern.Present() && !s.ToolCalls.Present()
}

// Evaluate returns true when d passes every present sub-filter of spec.
func Evaluate(spec Spec, d event.Data) bool {
	return Explain(spec, d) == ""
}

// Explain returns the name of the first failing sub-filter, or "" when d
// passes. Used for debug logging and the status API.
func Explain(spec Spec, d event.Data) string {
	if b, ok := spec.TokenCount.Get(); ok && !b.Contains(d.TokenCount) {
		return "token_count"
	}
	if b, ok := spec.Duration.Get(); ok && !b.Contains(d.Duration) {
		return "duration"
	}
	if req, ok := spec.ToolCalls.Get(); ok && d.HasToolCalls != req {
		return "tool_calls"
	}
	// Pattern last: it is the only sub-filter with non-trivial cost.
	if p, ok := spec.Pattern.Get(); ok && !p.Passes(d.Message) {
		return "pattern"
	}
	return ""
}
