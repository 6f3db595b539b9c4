package eventprocessor

import "strings"

// Predicate is a boolean test against a dotted-path value extracted from an
// event payload.
type Predicate struct {
	// Path is a dotted path into the event payload, e.g. "detail.state".
	Path string
	// Test is applied to the resolved value. A missing value never calls
	// Test; the predicate's own result is false.
	Test func(v any) bool

	// AndChildren and OrChildren compose this predicate with others.
	// Mutually exclusive by convention: if both are set, AndChildren
	// takes precedence, matching the original source's documented
	// "and wins" composition rule.
	AndChildren []*Predicate
	OrChildren  []*Predicate
}

// Evaluate resolves Path against event, applies Test, then folds in
// AndChildren or OrChildren as documented on Predicate.
func (p *Predicate) Evaluate(event map[string]any) bool {
	v, ok := lookup(event, p.Path)

	own := false
	if ok {
		own = p.Test(v)
	}

	switch {
	case len(p.AndChildren) > 0 && own:
		for _, child := range p.AndChildren {
			if !child.Evaluate(event) {
				return false
			}
		}
		return true
	case len(p.OrChildren) > 0 && !own:
		for _, child := range p.OrChildren {
			if child.Evaluate(event) {
				return true
			}
		}
		return false
	default:
		return own
	}
}

// lookup descends a dotted path through nested maps, returning (nil,
// false) if any segment is missing or not a map.
func lookup(event map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")
	var cur any = event

	for _, seg := range segments {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Contains builds a Test that reports whether a string value contains sub.
func Contains(sub string) func(v any) bool {
	return func(v any) bool {
		s, ok := v.(string)
		return ok && strings.Contains(s, sub)
	}
}

// Equals builds a Test that reports whether a string value equals want.
func Equals(want string) func(v any) bool {
	return func(v any) bool {
		s, ok := v.(string)
		return ok && s == want
	}
}
