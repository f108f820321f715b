package testutils

import (
	"net/netip"

	"github.com/google/uuid"

	"github.com/lessucettes/meshguard/pkg/meshguard-kit/message"
)

// NewGUID returns a random GUID.
func NewGUID() message.GUID {
	return message.GUID(uuid.New())
}

// GUIDWithPrefix returns a random GUID whose first four bytes encode prefix.
func GUIDWithPrefix(prefix uint32) message.GUID {
	g := NewGUID()
	g[0], g[1], g[2], g[3] = byte(prefix>>24), byte(prefix>>16), byte(prefix>>8), byte(prefix)
	return g
}

// AlterGUID returns a copy of g with exactly n leading byte positions changed.
func AlterGUID(g message.GUID, n int) message.GUID {
	for i := 0; i < n && i < len(g); i++ {
		g[i] ^= 0xff
	}
	return g
}

// MakePing is a shared helper to create a ping for tests.
func MakePing(guid message.GUID, hops uint8) *message.Message {
	return &message.Message{Kind: message.KindPing, GUID: guid, Hops: hops, TTL: 4}
}

// MakeQuery creates a plain keyword query with a fresh GUID.
func MakeQuery(text string) *message.Message {
	return MakeQueryWith(NewGUID(), 0, &message.Query{Text: text})
}

// MakeQueryWith creates a query with full control over header and payload.
func MakeQueryWith(guid message.GUID, hops uint8, q *message.Query) *message.Message {
	return &message.Message{Kind: message.KindQuery, GUID: guid, Hops: hops, TTL: 4, Query: q}
}

// MakeReply creates a query reply from sender ("ip:port") listing the given file names.
func MakeReply(sender string, names ...string) *message.Message {
	reply := &message.QueryReply{Sender: netip.MustParseAddrPort(sender)}
	for _, n := range names {
		reply.Results = append(reply.Results, message.Result{Name: n})
	}
	return &message.Message{Kind: message.KindQueryReply, GUID: NewGUID(), TTL: 4, Reply: reply}
}

// MakePush creates a push request from sender ("ip:port").
func MakePush(sender string) *message.Message {
	return &message.Message{
		Kind: message.KindPush,
		GUID: NewGUID(),
		TTL:  4,
		Push: &message.Push{Sender: netip.MustParseAddrPort(sender), ClientID: NewGUID()},
	}
}
