package eventprocessor

import (
	"strings"
)

// Processor validates one kind of termination event and extracts the
// external resource id it names.
type Processor struct {
	Source     string
	DetailType string // "" matches any detail type for Source

	IDPath    string
	Predicate *Predicate // nil means "always matches"
}

// testAndGetID returns the value at IDPath if Predicate accepts event (or
// Predicate is nil), else ("", false).
func (p *Processor) testAndGetID(event map[string]any) (string, bool) {
	if p.Predicate != nil && !p.Predicate.Evaluate(event) {
		return "", false
	}

	v, ok := lookup(event, p.IDPath)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// canonicalKey is the registration/lookup key for a (source, detailType)
// pair: "source:normalized-detail-type" when detailType is non-empty, else
// the bare source. Normalization lowercases and removes every space
// character, not just leading and trailing ones; other whitespace such as
// tabs is kept.
func canonicalKey(source, detailType string) string {
	detailType = strings.ToLower(strings.ReplaceAll(detailType, " ", ""))
	if detailType == "" {
		return source
	}
	return source + ":" + detailType
}
