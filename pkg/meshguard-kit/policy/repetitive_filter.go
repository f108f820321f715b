package policy

import (
	"fmt"
	"sync/atomic"

	"github.com/lessucettes/meshguard/pkg/meshguard-kit/config"
	"github.com/lessucettes/meshguard/pkg/meshguard-kit/message"
)

const (
	repetitiveFilterName = "RepetitiveQueryFilter"
)

// RepetitiveQueryFilter rejects a query whose text exactly matches one of the
// last Capacity accepted query texts. Not safe for concurrent use.
type RepetitiveQueryFilter struct {
	recent  []string
	next    int
	filled  int
	dropped DropCounter
	total   atomic.Uint64
}

// NewRepetitiveQueryFilter builds the filter. A nil counter is replaced by a no-op.
func NewRepetitiveQueryFilter(cfg *config.RepetitiveFilterConfig, dropped DropCounter) (*RepetitiveQueryFilter, error) {
	if cfg.Capacity < 0 {
		return nil, fmt.Errorf("repetitive filter capacity must not be negative, got %d", cfg.Capacity)
	}
	if dropped == nil {
		dropped = noopCounter{}
	}
	f := &RepetitiveQueryFilter{dropped: dropped}
	if cfg.Capacity > 0 {
		f.recent = make([]string, cfg.Capacity)
	}
	return f, nil
}

func (f *RepetitiveQueryFilter) Match(msg *message.Message) FilterResult {
	newResult := NewResultFunc(repetitiveFilterName)

	if len(f.recent) == 0 {
		return newResult(true, "filter_disabled")
	}
	if msg.Kind != message.KindQuery {
		return newResult(true, "kind_not_checked")
	}
	if msg.Query == nil {
		return newResult(false, "missing_query_payload")
	}

	text := msg.Query.Text
	for _, seen := range f.recent[:f.filled] {
		if seen == text {
			f.dropped.Inc()
			f.total.Add(1)
			return newResult(false, "repetitive_query")
		}
	}

	f.recent[f.next] = text
	f.next = (f.next + 1) % len(f.recent)
	if f.filled < len(f.recent) {
		f.filled++
	}
	return newResult(true, "query_not_repeated")
}

// Dropped returns the number of queries rejected so far. Safe to call from any goroutine.
func (f *RepetitiveQueryFilter) Dropped() uint64 { return f.total.Load() }
