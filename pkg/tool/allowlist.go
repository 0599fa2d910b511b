package tool

// Allowlist is the set of tool names permitted in a security context.
// A nil Allowlist permits every registered tool.
type Allowlist struct {
	names map[string]struct{}
}

// NewAllowlist builds an allowlist from tool names. An empty list permits
// nothing, which is distinct from a nil allowlist.
func NewAllowlist(names []string) *Allowlist {
	a := &Allowlist{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		a.names[n] = struct{}{}
	}
	return a
}

// Allowed reports whether the named tool may run.
func (a *Allowlist) Allowed(name string) bool {
	if a == nil {
		return true
	}
	_, ok := a.names[name]
	return ok
}

// Names returns the allowlisted tool names.
func (a *Allowlist) Names() []string {
	if a == nil {
		return nil
	}
	out := make([]string, 0, len(a.names))
	for n := range a.names {
		out = append(out, n)
	}
	return out
}
