// Package filter implements the per-consumer attribute filter from
// spec.md 4.4. Design Note "Polymorphism over variants" replaces the
// source's reflection-based filter loading with a fixed registry of known
// filter variants keyed by a configuration string — no dynamic code
// loading.
package filter

import (
	"errors"
	"strings"

	"github.com/National-Digital-Twin/federator-sub003/internal/model"
)

// SecurityLabelHeader is the header name events carry their security label
// under.
const SecurityLabelHeader = "Security-Label"

// ErrLabel is returned when a security-label segment has neither '=' nor
// ':' (spec.md 4.4 rule 2). ParseLabel skips that segment and reports
// ErrLabel; Allow then denies the whole event rather than allowing it.
var ErrLabel = errors.New("filter: malformed security-label segment")

// ParseLabel parses a security-label header value into a case-insensitive
// map of upper-cased keys to upper-cased values, per the split grammar in
// spec.md 4.4 rule 2 / spec.md 6: segments separated by ',', each segment
// "key[=|:]value", whitespace trimmed, empty segments ignored, segments
// with neither '=' nor ':' reported via the returned error (parsing
// continues for the remaining segments).
func ParseLabel(header string) (map[string]string, error) {
	out := make(map[string]string)
	var firstErr error

	for _, segment := range strings.Split(header, ",") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}

		idx := strings.IndexAny(segment, "=:")
		if idx < 0 {
			if firstErr == nil {
				firstErr = ErrLabel
			}
			continue
		}

		key := strings.ToUpper(strings.TrimSpace(segment[:idx]))
		value := strings.ToUpper(strings.TrimSpace(segment[idx+1:]))
		if key == "" {
			if firstErr == nil {
				firstErr = ErrLabel
			}
			continue
		}
		out[key] = value
	}

	return out, firstErr
}

// Allow implements the attribute filter contract (spec.md 4.4, spec.md 8
// property 1): an event is allowed iff attrs is empty, or every configured
// attribute is present in the event's security label with a
// case-insensitive matching value. Attributes with a missing or empty
// name/value deny the whole event. A label with any malformed segment
// (spec.md 4.4 rule 2's LabelException) denies the whole event too: "skip"
// means the event is skipped, not that the malformed segment is, so a
// label that parses to an apparent match on its well-formed segments must
// not be trusted.
func Allow(securityLabelHeader string, attrs []model.Attribute) bool {
	if len(attrs) == 0 {
		return true
	}

	label, err := ParseLabel(securityLabelHeader)
	if err != nil {
		return false
	}

	for _, a := range attrs {
		if a.Name == "" || a.Value == "" {
			return false
		}
		want := strings.ToUpper(strings.TrimSpace(a.Value))
		got, ok := label[strings.ToUpper(strings.TrimSpace(a.Name))]
		if !ok || got != want {
			return false
		}
	}
	return true
}
