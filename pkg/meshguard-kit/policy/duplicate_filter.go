package policy

import (
	"slices"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/lessucettes/meshguard/pkg/meshguard-kit/config"
	"github.com/lessucettes/meshguard/pkg/meshguard-kit/message"
)

const (
	duplicateFilterName = "DuplicateFilter"

	// Recent ping/query GUIDs kept for proximity matching.
	guidBufferSize = 20
	// GUIDs seen longer ago than this are never compared.
	guidLag = 500 * time.Millisecond
	// Maximum number of differing GUID bytes still treated as the same message.
	guidTolerance = 2
	// Generation length of the query content window. An identical query is
	// suppressed for somewhere between queryLag and 3*queryLag.
	queryLag = 1500 * time.Millisecond
)

type guidEntry struct {
	guid message.GUID
	hops uint8
	at   time.Time
}

type querySignature struct {
	text     string
	hops     uint8
	rich     string
	urns     string
	metaMask int
}

// DuplicateFilter drops retransmitted pings and queries. It compares GUIDs
// of recent pings/queries byte by byte, and query contents against two
// rotating generation sets. Not safe for concurrent use.
type DuplicateFilter struct {
	enabled bool
	clock   clock.Clock

	recent [guidBufferSize]guidEntry
	next   int
	filled int

	young, old map[querySignature]struct{}
	nextSwap   time.Time
	nextClear  time.Time
}

func NewDuplicateFilter(cfg *config.DuplicateFilterConfig, clk clock.Clock) (*DuplicateFilter, error) {
	if clk == nil {
		clk = clock.New()
	}
	now := clk.Now()
	f := &DuplicateFilter{
		enabled:   cfg.Enabled,
		clock:     clk,
		young:     make(map[querySignature]struct{}),
		old:       make(map[querySignature]struct{}),
		nextSwap:  now.Add(queryLag),
		nextClear: now.Add(2 * queryLag),
	}
	return f, nil
}

func (f *DuplicateFilter) Match(msg *message.Message) FilterResult {
	newResult := NewResultFunc(duplicateFilterName)

	if !f.enabled {
		return newResult(true, "filter_disabled")
	}

	switch msg.Kind {
	case message.KindPing:
		if !f.allowGUID(msg) {
			return newResult(false, "duplicate_guid")
		}
		return newResult(true, "guid_not_seen")
	case message.KindQuery:
		if !f.allowGUID(msg) {
			return newResult(false, "duplicate_guid")
		}
		if msg.Query == nil {
			return newResult(false, "missing_query_payload")
		}
		if !f.allowQuery(msg) {
			return newResult(false, "query_in_window")
		}
		return newResult(true, "query_not_seen")
	case message.KindPong, message.KindQueryReply, message.KindPush:
		return newResult(true, "kind_not_checked")
	default:
		return newResult(true, "unknown_kind")
	}
}

func (f *DuplicateFilter) allowGUID(msg *message.Message) bool {
	now := f.clock.Now()

	for i := 0; i < f.filled; i++ {
		e := &f.recent[(f.next-1-i+guidBufferSize)%guidBufferSize]
		if now.Sub(e.at) > guidLag {
			break
		}
		if e.hops != msg.Hops {
			continue
		}
		if guidDistance(e.guid, msg.GUID) <= guidTolerance {
			return false
		}
	}

	f.recent[f.next] = guidEntry{guid: msg.GUID, hops: msg.Hops, at: now}
	f.next = (f.next + 1) % guidBufferSize
	if f.filled < guidBufferSize {
		f.filled++
	}
	return true
}

func guidDistance(a, b message.GUID) int {
	diff := 0
	for i := range a {
		if a[i] != b[i] {
			diff++
		}
	}
	return diff
}

func (f *DuplicateFilter) allowQuery(msg *message.Message) bool {
	now := f.clock.Now()

	if now.After(f.nextSwap) {
		if now.After(f.nextClear) {
			clear(f.young)
			clear(f.old)
		} else {
			f.old, f.young = f.young, f.old
			clear(f.young)
		}
		f.nextSwap = now.Add(queryLag)
		f.nextClear = f.nextSwap.Add(queryLag)
	}

	sig := signatureOf(msg)
	if _, ok := f.old[sig]; ok {
		return false
	}
	if _, ok := f.young[sig]; ok {
		return false
	}
	f.young[sig] = struct{}{}
	return true
}

func signatureOf(msg *message.Message) querySignature {
	q := msg.Query
	urns := ""
	if len(q.URNs) > 0 {
		sorted := slices.Clone(q.URNs)
		slices.Sort(sorted)
		urns = strings.Join(slices.Compact(sorted), "\n")
	}
	return querySignature{
		text:     q.Text,
		hops:     msg.Hops,
		rich:     q.RichQuery,
		urns:     urns,
		metaMask: q.MetaMask,
	}
}
