package policy

import "github.com/lessucettes/meshguard/pkg/meshguard-kit/message"

const (
	allowAllFilterName  = "AllowAll"
	compositeFilterName = "CompositeFilter"
)

// AllowAll accepts every message.
type AllowAll struct{}

func (AllowAll) Match(*message.Message) FilterResult {
	return NewResultFunc(allowAllFilterName)(true, "allow_all")
}

// CompositeFilter accepts a message iff every member does. Members run in
// order and evaluation stops at the first rejection, so later members never
// observe (or learn from) a message an earlier one rejected.
type CompositeFilter struct {
	members []Filter
}

func NewCompositeFilter(members ...Filter) *CompositeFilter {
	kept := make([]Filter, 0, len(members))
	for _, m := range members {
		if m != nil {
			kept = append(kept, m)
		}
	}
	return &CompositeFilter{members: kept}
}

func (f *CompositeFilter) Len() int { return len(f.members) }

// Match returns the first rejecting member's result.
func (f *CompositeFilter) Match(msg *message.Message) FilterResult {
	newResult := NewResultFunc(compositeFilterName)
	for _, m := range f.members {
		if res := m.Match(msg); !res.Allowed {
			return res
		}
	}
	return newResult(true, "all_allowed")
}
