package filter

import (
	"fmt"

	"github.com/National-Digital-Twin/federator-sub003/internal/model"
)

// Filter is the capability contract a filter variant implements. Design Note
// "Polymorphism over variants" replaces the source's MessageFilter
// inheritance hierarchy and AbstractMessageConductor(filter)/
// AbstractMessageConductor(filterAttributes) duplication with this single
// interface plus the fixed registry below.
type Filter interface {
	Allow(securityLabelHeader string, attrs []model.Attribute) bool
}

type headerAttributeFilter struct{}

func (headerAttributeFilter) Allow(securityLabelHeader string, attrs []model.Attribute) bool {
	return Allow(securityLabelHeader, attrs)
}

// registry is the fixed set of known filter variants, keyed by the
// configuration string that selects one at construction time. There is no
// reflection-based lookup of arbitrary user-supplied classes (Design Note,
// spec.md 9 Open Question "Reflection-based filter loading").
var registry = map[string]Filter{
	"header-attribute": headerAttributeFilter{},
}

// Get returns the registered filter variant for name.
func Get(name string) (Filter, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("filter: unknown variant %q", name)
	}
	return f, nil
}
