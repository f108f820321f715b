package iprange

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name     string
		text     string
		expected string
		err      error
	}{
		{name: "Single address", text: "1.2.3.4", expected: "1.2.3.4"},
		{name: "Surrounding whitespace", text: "  10.0.0.1\t", expected: "10.0.0.1"},
		{name: "Prefix length", text: "1.1.1.77/24", expected: "1.1.1.0/24"},
		{name: "Zero prefix", text: "8.8.8.8/0", expected: "0.0.0.0/0"},
		{name: "Full prefix", text: "8.8.8.8/32", expected: "8.8.8.8"},
		{name: "Dotted netmask", text: "1.1.1.0/255.255.255.0", expected: "1.1.1.0/24"},
		{name: "Non contiguous netmask", text: "1.2.3.4/255.0.255.0", expected: "1.0.3.0/255.0.255.0"},
		{name: "Trailing wildcard", text: "1.1.1.*", expected: "1.1.1.0/24"},
		{name: "Two wildcards", text: "192.168.*.*", expected: "192.168.0.0/16"},
		{name: "Leading wildcard", text: "*.2.3.4", expected: "0.2.3.4/0.255.255.255"},
		{name: "Wildcard with prefix", text: "10.*.5.0/24", expected: "10.0.5.0/255.0.255.0"},
		{name: "Empty", text: "", err: ErrInvalidSyntax},
		{name: "Too few octets", text: "1.2.3", err: ErrInvalidSyntax},
		{name: "Too many octets", text: "1.2.3.4.5", err: ErrInvalidSyntax},
		{name: "Octet above 255", text: "1.2.3.256", err: ErrOctetRange},
		{name: "Negative octet", text: "1.2.-3.4", err: ErrInvalidSyntax},
		{name: "Letters", text: "a.b.c.d", err: ErrInvalidSyntax},
		{name: "Prefix above 32", text: "1.2.3.4/33", err: ErrPrefixRange},
		{name: "Empty prefix", text: "1.2.3.4/", err: ErrInvalidSyntax},
		{name: "Wildcard in netmask", text: "1.2.3.4/255.*.0.0", err: ErrInvalidSyntax},
		{name: "Netmask octet above 255", text: "1.2.3.4/256.0.0.0", err: ErrOctetRange},
		{name: "IPv6", text: "::1", err: ErrInvalidSyntax},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := Parse(tc.text)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				var pe *ParseError
				require.ErrorAs(t, err, &pe)
				require.Equal(t, tc.text, pe.Text)
				require.Equal(t, Range{}, r, "nothing is committed on error")
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected, r.String())
		})
	}
}

func TestEquivalentSyntaxesAreEqual(t *testing.T) {
	cidr := MustParse("1.1.1.0/24")
	require.Equal(t, cidr, MustParse("1.1.1.0/255.255.255.0"))
	require.Equal(t, cidr, MustParse("1.1.1.*"))
	require.Equal(t, cidr, MustParse("1.1.1.200/24"), "host bits are ignored")
	require.NotEqual(t, cidr, MustParse("1.1.1.0/25"))

	seen := map[Range]bool{cidr: true}
	require.True(t, seen[MustParse("1.1.1.*")], "equal ranges hash the same")
}

func TestContains(t *testing.T) {
	testCases := []struct {
		name     string
		outer    string
		inner    string
		expected bool
	}{
		{name: "Address inside block", outer: "1.1.1.0/24", inner: "1.1.1.99", expected: true},
		{name: "Address outside block", outer: "1.1.1.0/24", inner: "1.1.2.99", expected: false},
		{name: "Narrow block inside broad", outer: "10.0.0.0/8", inner: "10.20.0.0/16", expected: true},
		{name: "Broad block not inside narrow", outer: "10.20.0.0/16", inner: "10.0.0.0/8", expected: false},
		{name: "Match any", outer: "0.0.0.0/0", inner: "203.0.113.7", expected: true},
		{name: "Same range", outer: "172.16.0.0/12", inner: "172.16.0.0/12", expected: true},
		{name: "Single address contains itself", outer: "5.6.7.8", inner: "5.6.7.8", expected: true},
		{name: "Single address does not contain neighbour", outer: "5.6.7.8", inner: "5.6.7.9", expected: false},
		{name: "Leading wildcard", outer: "*.2.3.4", inner: "99.2.3.4", expected: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, MustParse(tc.outer).Contains(MustParse(tc.inner)))
		})
	}
}

func TestContainsEveryAddressInBlock(t *testing.T) {
	block := MustParse("192.0.2.0/28")
	for i := 0; i < 16; i++ {
		addr := FromBytes([4]byte{192, 0, 2, byte(i)})
		require.True(t, block.Contains(addr), "address %s", addr)
	}
	require.False(t, block.Contains(FromBytes([4]byte{192, 0, 2, 16})))
}

func TestFromAddr(t *testing.T) {
	r, ok := FromAddr(netip.MustParseAddr("1.2.3.4"))
	require.True(t, ok)
	require.True(t, r.IsSingle())
	require.Equal(t, MustParse("1.2.3.4"), r)

	mapped, ok := FromAddr(netip.MustParseAddr("::ffff:1.2.3.4"))
	require.True(t, ok)
	require.Equal(t, r, mapped)

	_, ok = FromAddr(netip.MustParseAddr("2001:db8::1"))
	require.False(t, ok)

	require.True(t, MustParse("1.2.0.0/16").ContainsAddr(netip.MustParseAddr("1.2.200.1")))
	require.False(t, MustParse("0.0.0.0/0").ContainsAddr(netip.MustParseAddr("2001:db8::1")))
}

func TestDistanceTo(t *testing.T) {
	a := MustParse("10.0.0.1")
	b := MustParse("10.0.0.3")
	require.Equal(t, uint32(2), a.DistanceTo(b))
	require.Equal(t, a.DistanceTo(b), b.DistanceTo(a))
	require.Zero(t, a.DistanceTo(a))

	// Only bits constrained by both ranges count.
	block := MustParse("10.0.0.0/24")
	require.Zero(t, block.DistanceTo(MustParse("10.0.0.200")))
	require.Equal(t, uint32(1)<<8, block.DistanceTo(MustParse("10.0.1.200")))
}

func TestBits(t *testing.T) {
	require.Equal(t, 32, MustParse("1.2.3.4").Bits())
	require.Equal(t, 24, MustParse("1.2.3.0/24").Bits())
	require.Equal(t, 0, MustParse("0.0.0.0/0").Bits())
	require.Equal(t, -1, MustParse("1.0.3.0/255.0.255.0").Bits())
}
