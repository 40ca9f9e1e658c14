package tools

import "sort"

// AllowList is the fixed set of tool names the proxy forwards.
type AllowList struct {
	specs map[string]ToolSpec
}

// NewAllowList builds an allow-list from the given specs.
func NewAllowList(specs []ToolSpec) *AllowList {
	m := make(map[string]ToolSpec, len(specs))
	for _, s := range specs {
		m[s.Name] = s
	}
	return &AllowList{specs: m}
}

// DefaultAllowList returns the allow-list of the supported JetBrains tools.
func DefaultAllowList() *AllowList {
	return NewAllowList(Supported())
}

// IsAllowed reports whether name may be forwarded downstream.
func (a *AllowList) IsAllowed(name string) bool {
	_, ok := a.specs[name]
	return ok
}

// Spec returns the ToolSpec registered for name.
func (a *AllowList) Spec(name string) (ToolSpec, bool) {
	s, ok := a.specs[name]
	return s, ok
}

// Names returns the allowed names in sorted order.
func (a *AllowList) Names() []string {
	names := make([]string, 0, len(a.specs))
	for n := range a.specs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of allowed tools.
func (a *AllowList) Len() int {
	return len(a.specs)
}
