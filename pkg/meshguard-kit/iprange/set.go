package iprange

import (
	"log/slog"
	"net/netip"
)

// Set is an unordered collection of ranges. Overlapping ranges are kept as
// given; identical ranges are stored once. A Set is not safe for concurrent
// mutation; publish it only after it is fully built.
type Set struct {
	ranges []Range
	seen   map[Range]struct{}
}

// NewSet builds a set from textual entries, skipping the ones that do not parse.
func NewSet(entries ...string) *Set {
	s := &Set{seen: make(map[Range]struct{}, len(entries))}
	for _, e := range entries {
		s.Add(e)
	}
	return s
}

// Add parses text and inserts the result. Entries that fail to parse are
// logged at debug level and skipped. It reports whether the set grew.
func (s *Set) Add(text string) bool {
	r, err := Parse(text)
	if err != nil {
		slog.Debug("Skipping unparsable address range", "entry", text, "error", err)
		return false
	}
	return s.AddRange(r)
}

// AddRange inserts r unless an equal range is already present.
func (s *Set) AddRange(r Range) bool {
	if s.seen == nil {
		s.seen = make(map[Range]struct{})
	}
	if _, ok := s.seen[r]; ok {
		return false
	}
	s.seen[r] = struct{}{}
	s.ranges = append(s.ranges, r)
	return true
}

// Contains reports whether any member contains r.
func (s *Set) Contains(r Range) bool {
	if s == nil {
		return false
	}
	for _, member := range s.ranges {
		if member.Contains(r) {
			return true
		}
	}
	return false
}

// ContainsAddr reports whether any member contains the address. Addresses
// that are not IPv4 are never contained.
func (s *Set) ContainsAddr(a netip.Addr) bool {
	r, ok := FromAddr(a)
	return ok && s.Contains(r)
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ranges)
}

// Ranges returns a copy of the members in insertion order.
func (s *Set) Ranges() []Range {
	if s == nil {
		return nil
	}
	out := make([]Range, len(s.ranges))
	copy(out, s.ranges)
	return out
}
