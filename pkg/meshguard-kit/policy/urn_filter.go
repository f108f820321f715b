package policy

import (
	"github.com/lessucettes/meshguard/pkg/meshguard-kit/message"
)

const (
	urnFilterName = "URNFilter"
)

// URNPolicy answers whether a canonical SHA1 URN is blacklisted.
// Implementations must answer from memory without blocking.
type URNPolicy interface {
	BlockedURN(urn string) bool
}

// URNFilter drops queries asking for, and replies offering, blacklisted content.
// A reply is dropped whole when any of its results is blacklisted.
type URNFilter struct {
	policy URNPolicy
}

func NewURNFilter(p URNPolicy) (*URNFilter, error) {
	return &URNFilter{policy: p}, nil
}

func (f *URNFilter) blocked(urn string) bool {
	canonical, ok := message.NormalizeSHA1URN(urn)
	return ok && f.policy.BlockedURN(canonical)
}

func (f *URNFilter) Match(msg *message.Message) FilterResult {
	newResult := NewResultFunc(urnFilterName)

	if f.policy == nil {
		return newResult(true, "no_policy")
	}

	switch msg.Kind {
	case message.KindQuery:
		if msg.Query == nil {
			return newResult(false, "missing_query_payload")
		}
		for _, urn := range msg.Query.URNs {
			if f.blocked(urn) {
				return newResult(false, "blocked_query_urn")
			}
		}
		return newResult(true, "no_blocked_urns")
	case message.KindQueryReply:
		if msg.Reply == nil {
			return newResult(false, "missing_reply_payload")
		}
		for _, r := range msg.Reply.Results {
			if r.URN != "" && f.blocked(r.URN) {
				return newResult(false, "blocked_result_urn")
			}
		}
		return newResult(true, "no_blocked_urns")
	case message.KindPing, message.KindPong, message.KindPush:
		return newResult(true, "kind_not_checked")
	default:
		return newResult(true, "unknown_kind")
	}
}
