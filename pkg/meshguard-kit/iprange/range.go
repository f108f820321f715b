// Package iprange implements IPv4 address ranges expressed as an address
// and a bit mask, and unordered sets of them.
//
// Accepted textual forms:
//
//	1.2.3.4             single address (/32)
//	1.2.3.0/24          prefix length, 0..32
//	1.2.3.0/255.255.255.0
//	1.2.*.*             wildcard octets, in any position
//
// Two ranges denoting the same addresses compare equal with == regardless of
// the syntax they were parsed from.
package iprange

import (
	"errors"
	"fmt"
	"math/bits"
	"net/netip"
	"strconv"
	"strings"
)

const allOnes = ^uint32(0)

var (
	ErrInvalidSyntax = errors.New("invalid address range syntax")
	ErrOctetRange    = errors.New("octet out of range")
	ErrPrefixRange   = errors.New("prefix length out of range")
)

// ParseError reports the text that failed to parse and why.
type ParseError struct {
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("iprange: parse %q: %v", e.Text, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Range is an immutable (address, mask) pair. The address is stored already
// masked, so the zero-cost struct comparison is the set equality.
type Range struct {
	addr uint32
	mask uint32
}

func newRange(addr, mask uint32) Range {
	return Range{addr: addr & mask, mask: mask}
}

// FromBytes returns the /32 range of a raw address in network byte order.
func FromBytes(b [4]byte) Range {
	return newRange(uint32(b[0])<<24|uint32(b[1])<<16|uint32(b[2])<<8|uint32(b[3]), allOnes)
}

// FromAddr returns the /32 range of an IPv4 or IPv4-mapped address.
// It reports false for any other address.
func FromAddr(a netip.Addr) (Range, bool) {
	a = a.Unmap()
	if !a.Is4() {
		return Range{}, false
	}
	return FromBytes(a.As4()), true
}

// Parse parses one of the supported textual forms. Surrounding whitespace is ignored.
func Parse(text string) (Range, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return Range{}, &ParseError{Text: text, Err: ErrInvalidSyntax}
	}

	addrPart, maskPart, hasMask := strings.Cut(s, "/")

	addr, mask, err := parseOctets(addrPart, true)
	if err != nil {
		return Range{}, &ParseError{Text: text, Err: err}
	}

	if hasMask {
		var m uint32
		if strings.Contains(maskPart, ".") {
			m, _, err = parseOctets(maskPart, false)
		} else {
			m, err = parsePrefix(maskPart)
		}
		if err != nil {
			return Range{}, &ParseError{Text: text, Err: err}
		}
		mask &= m
	}

	return newRange(addr, mask), nil
}

// MustParse is like Parse but panics on error. Intended for constants and tests.
func MustParse(text string) Range {
	r, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return r
}

func parseOctets(s string, allowWildcard bool) (value, mask uint32, err error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return 0, 0, ErrInvalidSyntax
	}
	for _, p := range parts {
		value <<= 8
		mask <<= 8
		if p == "*" && allowWildcard {
			continue
		}
		if p == "" || len(p) > 3 || !isDigits(p) {
			return 0, 0, ErrInvalidSyntax
		}
		n, convErr := strconv.Atoi(p)
		if convErr != nil {
			return 0, 0, ErrInvalidSyntax
		}
		if n > 255 {
			return 0, 0, ErrOctetRange
		}
		value |= uint32(n)
		mask |= 0xff
	}
	return value, mask, nil
}

func parsePrefix(s string) (uint32, error) {
	if s == "" || len(s) > 2 || !isDigits(s) {
		return 0, ErrInvalidSyntax
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, ErrInvalidSyntax
	}
	if n > 32 {
		return 0, ErrPrefixRange
	}
	if n == 0 {
		return 0, nil
	}
	return allOnes << (32 - n), nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Contains reports whether other lies within r. The relation is asymmetric:
// other must match r's masked prefix and constrain at least r's mask bits.
func (r Range) Contains(other Range) bool {
	return other.addr&r.mask == r.addr && other.mask&r.mask == r.mask
}

// ContainsAddr reports whether a single address lies within r.
func (r Range) ContainsAddr(a netip.Addr) bool {
	other, ok := FromAddr(a)
	return ok && r.Contains(other)
}

// DistanceTo is the XOR of both addresses over the bits both ranges constrain.
func (r Range) DistanceTo(other Range) uint32 {
	return (r.addr ^ other.addr) & r.mask & other.mask
}

func (r Range) Mask() uint32 { return r.mask }

// Addr returns the masked network address.
func (r Range) Addr() netip.Addr {
	return netip.AddrFrom4([4]byte{byte(r.addr >> 24), byte(r.addr >> 16), byte(r.addr >> 8), byte(r.addr)})
}

// IsSingle reports whether r denotes exactly one address.
func (r Range) IsSingle() bool { return r.mask == allOnes }

// Bits returns the prefix length, or -1 when the mask is not contiguous.
func (r Range) Bits() int {
	ones := bits.LeadingZeros32(^r.mask)
	if ones < 32 && r.mask<<ones != 0 {
		return -1
	}
	return ones
}

func (r Range) String() string {
	if r.IsSingle() {
		return r.Addr().String()
	}
	if n := r.Bits(); n >= 0 {
		return r.Addr().String() + "/" + strconv.Itoa(n)
	}
	m := r.mask
	return fmt.Sprintf("%s/%d.%d.%d.%d", r.Addr(), byte(m>>24), byte(m>>16), byte(m>>8), byte(m))
}
