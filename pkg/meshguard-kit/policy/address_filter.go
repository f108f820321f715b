package policy

import (
	"net/netip"

	"github.com/lessucettes/meshguard/pkg/meshguard-kit/message"
)

const (
	addressFilterName = "AddressFilter"
)

// AddressPolicy decides whether traffic from an address is acceptable.
// Implementations must answer from memory without blocking.
type AddressPolicy interface {
	AllowIP(ip netip.Addr) bool
}

// AddressFilter applies an AddressPolicy to the sender of replies and pushes.
type AddressFilter struct {
	policy AddressPolicy
}

func NewAddressFilter(p AddressPolicy) (*AddressFilter, error) {
	return &AddressFilter{policy: p}, nil
}

func (f *AddressFilter) Match(msg *message.Message) FilterResult {
	newResult := NewResultFunc(addressFilterName)

	if f.policy == nil {
		return newResult(true, "no_policy")
	}

	switch msg.Kind {
	case message.KindQueryReply, message.KindPush:
		addr, ok := msg.SenderAddr()
		if !ok {
			return newResult(false, "sender_address_unreadable")
		}
		if !f.policy.AllowIP(addr) {
			return newResult(false, "sender_address_blocked")
		}
		return newResult(true, "sender_address_allowed")
	case message.KindPing, message.KindPong, message.KindQuery:
		return newResult(true, "kind_not_checked")
	default:
		return newResult(true, "unknown_kind")
	}
}
