// Package message defines the decoded protocol messages the filters inspect.
// Values are produced by the wire layer and treated as read-only here.
package message

import (
	"encoding/hex"
	"fmt"
	"net/netip"
	"strings"
)

// Kind is the closed set of message types.
type Kind uint8

const (
	KindPing Kind = iota + 1
	KindPong
	KindQuery
	KindQueryReply
	KindPush
)

var kindNames = map[Kind]string{
	KindPing:       "ping",
	KindPong:       "pong",
	KindQuery:      "query",
	KindQueryReply: "query_reply",
	KindPush:       "push",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("unknown message kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	v := strings.ToLower(string(text))
	for kind, name := range kindNames {
		if name == v {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown message kind %q", v)
}

// GUID is the 16-byte identifier carried by every message.
type GUID [16]byte

func (g GUID) String() string { return hex.EncodeToString(g[:]) }

// Prefix returns the first four bytes interpreted as a big-endian integer.
func (g GUID) Prefix() uint32 {
	return uint32(g[0])<<24 | uint32(g[1])<<16 | uint32(g[2])<<8 | uint32(g[3])
}

func (g GUID) MarshalText() ([]byte, error) { return []byte(g.String()), nil }

func (g *GUID) UnmarshalText(text []byte) error {
	if len(text) != 2*len(g) {
		return fmt.Errorf("guid must be %d hex characters, got %d", 2*len(g), len(text))
	}
	if _, err := hex.Decode(g[:], text); err != nil {
		return fmt.Errorf("invalid guid: %w", err)
	}
	return nil
}

// SpeedFlagsBit marks the minimum-speed field as carrying flags rather than a speed.
const SpeedFlagsBit uint16 = 0x8000

// Query is the payload of a KindQuery message.
type Query struct {
	Text      string   `json:"text"`
	MinSpeed  uint16   `json:"min_speed,omitempty"`
	OutOfBand bool     `json:"out_of_band,omitempty"`
	RichQuery string   `json:"rich_query,omitempty"`
	URNs      []string `json:"urns,omitempty"`
	MetaMask  int      `json:"meta_mask,omitempty"`
}

// HasSpeedFlags reports whether the minimum-speed field carries flags.
func (q *Query) HasSpeedFlags() bool { return q.MinSpeed&SpeedFlagsBit != 0 }

// Result is one file entry of a query reply.
type Result struct {
	Name string `json:"name"`
	URN  string `json:"urn,omitempty"`
	Size uint64 `json:"size,omitempty"`
}

// QueryReply is the payload of a KindQueryReply message.
type QueryReply struct {
	Sender  netip.AddrPort `json:"sender"`
	Results []Result       `json:"results,omitempty"`
}

// Push is the payload of a KindPush message.
type Push struct {
	Sender   netip.AddrPort `json:"sender"`
	ClientID GUID           `json:"client_id"`
	Index    uint32         `json:"index,omitempty"`
}

// Message is a tagged variant: exactly the payload matching Kind is set.
// Ping and Pong carry no payload the filters read.
type Message struct {
	Kind  Kind        `json:"kind"`
	GUID  GUID        `json:"guid"`
	Hops  uint8       `json:"hops"`
	TTL   uint8       `json:"ttl"`
	Query *Query      `json:"query,omitempty"`
	Reply *QueryReply `json:"reply,omitempty"`
	Push  *Push       `json:"push,omitempty"`
}

// Validate checks that the payload matches the kind.
func (m *Message) Validate() error {
	switch m.Kind {
	case KindPing, KindPong:
		return nil
	case KindQuery:
		if m.Query == nil {
			return fmt.Errorf("%s message without query payload", m.Kind)
		}
	case KindQueryReply:
		if m.Reply == nil {
			return fmt.Errorf("%s message without reply payload", m.Kind)
		}
	case KindPush:
		if m.Push == nil {
			return fmt.Errorf("%s message without push payload", m.Kind)
		}
	default:
		return fmt.Errorf("unknown message kind %d", uint8(m.Kind))
	}
	return nil
}

// SenderAddr returns the sender address of replies and pushes.
func (m *Message) SenderAddr() (netip.Addr, bool) {
	var ap netip.AddrPort
	switch m.Kind {
	case KindQueryReply:
		if m.Reply == nil {
			return netip.Addr{}, false
		}
		ap = m.Reply.Sender
	case KindPush:
		if m.Push == nil {
			return netip.Addr{}, false
		}
		ap = m.Push.Sender
	default:
		return netip.Addr{}, false
	}
	if !ap.Addr().IsValid() {
		return netip.Addr{}, false
	}
	return ap.Addr(), true
}
